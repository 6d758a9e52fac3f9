package convograph

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// ContextBindingError reports an operation against an unknown or
// released context id.
type ContextBindingError = convo.BindingError

// Sentinel errors for graph building and entry selection.
var (
	// ErrNoEntryNode indicates no start-typed node and no unique
	// zero-indegree node exists.
	ErrNoEntryNode = errors.New("no entry node")

	// ErrAmbiguousEntry indicates multiple zero-indegree candidates and no
	// designated start node.
	ErrAmbiguousEntry = errors.New("ambiguous entry node")

	// ErrUnknownNodeType indicates a flow references a node type with no
	// registered implementation.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrCancelled indicates the run's shared cancellation signal was set.
	ErrCancelled = errors.New("run cancelled")
)

// GraphError is a structural graph failure: no or ambiguous entry node, or
// a pull that cannot be resolved because zero or multiple edges target the
// input. Structural errors abort the run.
type GraphError struct {
	// NodeID is the node the failure relates to, when known.
	NodeID string
	// Input names the input a pull could not resolve, when applicable.
	Input string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	switch {
	case e.Input != "":
		return fmt.Sprintf("graph error at node %s input %q: %v", e.NodeID, e.Input, e.Err)
	case e.NodeID != "":
		return fmt.Sprintf("graph error at node %s: %v", e.NodeID, e.Err)
	default:
		return fmt.Sprintf("graph error: %v", e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// AmbiguousInputError indicates push-time fan-in that cannot be resolved:
// multiple edges target the same input name and no value was supplied, so
// the coordinator refuses to guess which edge's value should win.
type AmbiguousInputError struct {
	// NodeID is the node whose input is ambiguous.
	NodeID string
	// Input is the contested input name.
	Input string
	// EdgeCount is the number of edges targeting the input.
	EdgeCount int
}

// Error implements the error interface.
func (e *AmbiguousInputError) Error() string {
	return fmt.Sprintf("ambiguous input %q on node %s: %d edges target it and no value was supplied", e.Input, e.NodeID, e.EdgeCount)
}

// NodeExecutionError wraps any error produced by node logic, including an
// explicit error-status result, which is converted into a thrown error.
type NodeExecutionError struct {
	// NodeID is the node that failed.
	NodeID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// CancellationError is raised when the shared cancellation signal is set.
// It is distinguished everywhere it is caught and treated as a clean stop
// rather than a fault.
type CancellationError struct {
	// NodeID is the node that observed the cancellation.
	NodeID string
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.NodeID == "" {
		return "run cancelled"
	}
	return fmt.Sprintf("run cancelled at node %s", e.NodeID)
}

// Unwrap returns ErrCancelled for errors.Is support.
func (e *CancellationError) Unwrap() error {
	return ErrCancelled
}

// IsCancellation reports whether err is a cancellation anywhere in its
// chain. Both the engine's own CancellationError and context.Canceled
// count: node logic frequently surfaces the latter from provider SDKs.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var ce *CancellationError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
