package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/garagebot-core/server/internal/booking/state"
)

func staticEntry(node string) EntryResolver {
	return func(*state.Conversation) string { return node }
}

func signalNode(sig Signal, visited *[]string, id string) NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (Signal, error) {
		*visited = append(*visited, id)
		return sig, nil
	}
}

func TestRunnerStopsOnSuspend(t *testing.T) {
	var visited []string
	runner, err := New(staticEntry("a")).
		AddNode("a", signalNode(Continue, &visited, "a")).
		AddEdge("a", "b").
		AddNode("b", signalNode(Suspend, &visited, "b")).
		AddNode("c", signalNode(Terminate, &visited, "c")).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	suspended, err := runner.Run(context.Background(), state.New("conv-1", "any"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !suspended {
		t.Error("want suspended")
	}
	if got := strings.Join(visited, ","); got != "a,b" {
		t.Errorf("visited %s, want a,b", got)
	}
}

func TestRunnerStopsOnTerminate(t *testing.T) {
	var visited []string
	runner, err := New(staticEntry("a")).
		AddNode("a", signalNode(Terminate, &visited, "a")).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	suspended, err := runner.Run(context.Background(), state.New("conv-1", "any"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if suspended {
		t.Error("terminate must not report suspended")
	}
}

func TestRunnerRoutesThroughRouter(t *testing.T) {
	var visited []string
	runner, err := New(staticEntry("start")).
		AddNode("start", signalNode(Continue, &visited, "start")).
		AddRouter("start", func(c *state.Conversation) string {
			if c.Resolved("customer.phone") {
				return "have_phone"
			}
			return "need_phone"
		}).
		AddNode("have_phone", signalNode(Terminate, &visited, "have_phone")).
		AddNode("need_phone", signalNode(Suspend, &visited, "need_phone")).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	c := state.New("conv-1", "any")
	if _, err := runner.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}

	c.SetIfPresent("customer.phone", state.Of("9876543210"), 0.9, state.TierFallback)
	if _, err := runner.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := strings.Join(visited, ","); got != "start,need_phone,start,have_phone" {
		t.Errorf("visited %s", got)
	}
}

func TestRunnerMaxStepsGuardsLoops(t *testing.T) {
	var visited []string
	runner, err := New(staticEntry("loop")).
		AddNode("loop", signalNode(Continue, &visited, "loop")).
		AddEdge("loop", "loop").
		WithMaxSteps(5).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	_, err = runner.Run(context.Background(), state.New("conv-1", "any"))
	if err == nil {
		t.Fatal("want max steps error")
	}
	if len(visited) != 5 {
		t.Errorf("executed %d nodes, want 5", len(visited))
	}
}

func TestRunnerNodeErrorAbortsWithNodeName(t *testing.T) {
	boom := errors.New("backend down")
	runner, err := New(staticEntry("a")).
		AddNode("a", func(ctx context.Context, c *state.Conversation) (Signal, error) {
			return 0, boom
		}).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	_, err = runner.Run(context.Background(), state.New("conv-1", "any"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), `"a"`) {
		t.Errorf("error %q does not name the failing node", err)
	}
}

func TestRunnerContinueWithoutRouterFails(t *testing.T) {
	var visited []string
	runner, err := New(staticEntry("a")).
		AddNode("a", signalNode(Continue, &visited, "a")).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, err := runner.Run(context.Background(), state.New("conv-1", "any")); err == nil {
		t.Fatal("want error for Continue without a router")
	}
}

func TestRunnerHonorsContextCancellation(t *testing.T) {
	runner, err := New(staticEntry("a")).
		AddNode("a", func(ctx context.Context, c *state.Conversation) (Signal, error) {
			return Continue, nil
		}).
		AddEdge("a", "a").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Run(ctx, state.New("conv-1", "any")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCompileRejectsBadGraphs(t *testing.T) {
	if _, err := New(nil).AddNode("a", signalNode(Terminate, &[]string{}, "a")).Compile(); err == nil {
		t.Error("nil entry resolver must not compile")
	}
	if _, err := New(staticEntry("a")).Compile(); err == nil {
		t.Error("empty graph must not compile")
	}
	g := New(staticEntry("a")).
		AddNode("a", signalNode(Terminate, &[]string{}, "a")).
		AddRouter("ghost", func(*state.Conversation) string { return "a" })
	if _, err := g.Compile(); err == nil {
		t.Error("router for unknown node must not compile")
	}
}
