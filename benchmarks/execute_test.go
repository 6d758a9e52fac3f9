package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

func benchRegistry(lastNode string, done chan<- struct{}) *convograph.NodeRegistry {
	forward := func(_ context.Context, caps *convograph.Capabilities, _ *convo.Context, dataIn any, _ convograph.Inputs, _ config.Config) (*convograph.NodeOutput, error) {
		if dataIn == nil {
			dataIn = 0
		}
		if caps.NodeID() == lastNode {
			done <- struct{}{}
		}
		return convograph.Success(caps.ActiveContext(), dataIn), nil
	}
	start := func(_ context.Context, caps *convograph.Capabilities, _ *convo.Context, _ any, _ convograph.Inputs, _ config.Config) (*convograph.NodeOutput, error) {
		return convograph.Success(caps.ActiveContext(), 0), nil
	}
	return convograph.NewNodeRegistry().Register("start", start).Register("step", forward)
}

func runLinear(b *testing.B, n int) {
	b.Helper()
	def := linearDefinition(n)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan struct{}, 1)
	reg := benchRegistry(nodeID(n-1), done)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e, err := convograph.New(def, reg, convograph.WithLogger(logger))
		if err != nil {
			b.Fatal(err)
		}
		errCh := make(chan error, 1)
		go func() { errCh <- e.Execute(context.Background()) }()
		<-done
		e.Cancel()
		if err := <-errCh; err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExecute_Linear_5 pushes through a 5-node chain per op.
func BenchmarkExecute_Linear_5(b *testing.B) {
	runLinear(b, 5)
}

// BenchmarkExecute_Linear_20 pushes through a 20-node chain per op.
func BenchmarkExecute_Linear_20(b *testing.B) {
	runLinear(b, 20)
}

// BenchmarkExecute_Linear_50 pushes through a 50-node chain per op.
func BenchmarkExecute_Linear_50(b *testing.B) {
	runLinear(b, 50)
}
