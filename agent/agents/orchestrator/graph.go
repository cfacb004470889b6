package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/airline-handoff-router/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.Reply], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.Reply]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now, o.newID)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, o.store, o.coordinator.Entry())
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_session: %w", err)
	}

	if err := graph.AddLambdaNode("guardrail_gate",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.GuardrailGate(ctx, in, o.gates)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node guardrail_gate: %w", err)
	}

	if err := graph.AddLambdaNode("refuse",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Refuse(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node refuse: %w", err)
	}

	if err := graph.AddLambdaNode("run_workers",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunWorkers(ctx, in, nodex.RunDeps{
				Workers:     o.workers,
				Invoker:     o.invoker,
				Coordinator: o.coordinator,
				MaxHops:     o.maxHops,
				Reflector:   o.reflector,
				MaxSteps:    o.maxSteps,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_workers: %w", err)
	}

	if err := graph.AddLambdaNode("save_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveSession(ctx, in, o.store, o.summarizer)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_session: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.Reply, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	gateBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if nodex.Tripped(in) {
				return "refuse", nil
			}
			return "run_workers", nil
		},
		map[string]bool{"refuse": true, "run_workers": true},
	)

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_session"},
		{"load_session", "guardrail_gate"},
		{"refuse", "save_session"},
		{"run_workers", "save_session"},
		{"save_session", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}
	if err := graph.AddBranch("guardrail_gate", gateBranch); err != nil {
		return nil, fmt.Errorf("add branch guardrail_gate: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
