/*
Package convograph executes directed graphs of asynchronous conversation
steps: LLM provider requests, tool calls, user-input suspension points,
intent-based branching, and isolated sub-conversation forks.

# Overview

convograph implements a hybrid push/pull dataflow model. There is no
central interpreter loop: each node is an autonomous function that is
started by a push from a completed predecessor, pulls any remaining
dependencies lazily, and propagates its own result onward. The engine
tracks one in-flight execution per node, merges late-arriving pushes into
running nodes, and refuses to guess when several edges could supply the
same input.

Conversation state lives in a context registry: exactly one main context,
any number of isolated forks, deep-cloned snapshots at every boundary, and
value-replace updates so consumers can detect change by pointer equality.

# Basic Usage

Define a flow, register node implementations, and execute:

	def, err := convograph.LoadDefinition("flow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	registry := convograph.NewNodeRegistry()
	nodes.RegisterBuiltins(registry, providers)

	engine, err := convograph.New(def, registry,
	    convograph.WithLogger(logger),
	    convograph.WithSessionStore(store),
	)
	if err != nil {
	    log.Fatal(err)
	}

	// Execute blocks until the run is cancelled or faults; a healthy
	// conversational run is held open at user-input boundaries.
	go engine.Execute(ctx)

	engine.ResolveUserInput("ask", "hello")
	engine.Cancel()

Execution events (streamed chunks, tool lifecycle, token usage, errors,
done) are published to the run's event bus; subscribe via Events().

# Contexts

Nodes receive a deep-cloned snapshot of their active context and
manipulate it through the capability surface. Isolated contexts fork the
active one for side conversations and are released when done; the main
context always exists and cannot be released.

# Portals

Portal node pairs bridge disjoint subgraphs: edges into a portal-input
node are cross-wired to edges out of matching portal-output nodes at
graph-build time, and a portal-input node can re-activate its outputs at
run time via TriggerPortalOutputs after storing a payload.
*/
package convograph
