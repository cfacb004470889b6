package specialist

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

const (
	nodePrepare  = "prepare"
	nodePlan     = "plan"
	nodeExecute  = "execute_tools"
	nodeFinalize = "finalize"
	nodeFinish   = "finish"
	nodeSettle   = "settle"
)

func compileToolPlanningGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add tool planning prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add tool planning model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add tool planning edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add tool planning edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add tool planning edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile tool planning graph: %w", err)
	}
	return runner, nil
}

// turnInput carries the per-turn tool binding alongside the request.
type turnInput struct {
	Req   contractx.WorkerRequest
	Tools contractx.ToolRunner
}

type turnState struct {
	In       turnInput
	Plan     plan
	Outcomes []contractx.ToolOutcome
	// Settled is set when planning or tool execution ends the turn early.
	Settled *contractx.WorkerDecision
}

// compileWorkerRuntimeGraph wires one tool-using worker turn:
// prepare -> plan -> (settle | finish | execute_tools -> (finalize | settle)).
func compileWorkerRuntimeGraph(
	ctx context.Context,
	graphName string,
	planFlow func(context.Context, *turnState) (*turnState, error),
	executeFlow func(context.Context, *turnState) (*turnState, error),
	finalizeFlow func(context.Context, *turnState) (contractx.WorkerDecision, error),
	finishFlow func(context.Context, *turnState) (contractx.WorkerDecision, error),
) (compose.Runnable[turnInput, contractx.WorkerDecision], error) {
	graph := compose.NewGraph[turnInput, contractx.WorkerDecision]()

	if err := graph.AddLambdaNode(nodePrepare,
		compose.InvokableLambda(func(ctx context.Context, in turnInput) (*turnState, error) {
			if in.Tools == nil {
				return nil, fmt.Errorf("%w: tool runner is required", contractx.ErrValidation)
			}
			if in.Req.Conversation == nil {
				return nil, fmt.Errorf("%w: conversation is required", contractx.ErrValidation)
			}
			return &turnState{In: in}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add worker runtime prepare node: %w", err)
	}

	if err := graph.AddLambdaNode(nodePlan, compose.InvokableLambda(planFlow)); err != nil {
		return nil, fmt.Errorf("add worker runtime plan node: %w", err)
	}
	if err := graph.AddLambdaNode(nodeExecute, compose.InvokableLambda(executeFlow)); err != nil {
		return nil, fmt.Errorf("add worker runtime execute node: %w", err)
	}
	if err := graph.AddLambdaNode(nodeFinalize, compose.InvokableLambda(finalizeFlow)); err != nil {
		return nil, fmt.Errorf("add worker runtime finalize node: %w", err)
	}
	if err := graph.AddLambdaNode(nodeFinish, compose.InvokableLambda(finishFlow)); err != nil {
		return nil, fmt.Errorf("add worker runtime finish node: %w", err)
	}
	if err := graph.AddLambdaNode(nodeSettle,
		compose.InvokableLambda(func(ctx context.Context, st *turnState) (contractx.WorkerDecision, error) {
			if st == nil || st.Settled == nil {
				return contractx.WorkerDecision{}, fmt.Errorf("%w: settled decision is missing", contractx.ErrValidation)
			}
			return *st.Settled, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add worker runtime settle node: %w", err)
	}

	planBranch := compose.NewGraphBranch(
		func(ctx context.Context, st *turnState) (string, error) {
			if st == nil {
				return "", fmt.Errorf("%w: worker graph state is nil", contractx.ErrValidation)
			}
			switch {
			case st.Settled != nil:
				return nodeSettle, nil
			case len(st.Plan.Calls) == 0:
				return nodeFinish, nil
			default:
				return nodeExecute, nil
			}
		},
		map[string]bool{nodeSettle: true, nodeFinish: true, nodeExecute: true},
	)
	executeBranch := compose.NewGraphBranch(
		func(ctx context.Context, st *turnState) (string, error) {
			if st == nil {
				return "", fmt.Errorf("%w: worker graph state is nil", contractx.ErrValidation)
			}
			if st.Settled != nil {
				return nodeSettle, nil
			}
			return nodeFinalize, nil
		},
		map[string]bool{nodeSettle: true, nodeFinalize: true},
	)

	if err := graph.AddEdge(compose.START, nodePrepare); err != nil {
		return nil, fmt.Errorf("add worker runtime edge start->prepare: %w", err)
	}
	if err := graph.AddEdge(nodePrepare, nodePlan); err != nil {
		return nil, fmt.Errorf("add worker runtime edge prepare->plan: %w", err)
	}
	if err := graph.AddBranch(nodePlan, planBranch); err != nil {
		return nil, fmt.Errorf("add worker runtime plan branch: %w", err)
	}
	if err := graph.AddBranch(nodeExecute, executeBranch); err != nil {
		return nil, fmt.Errorf("add worker runtime execute branch: %w", err)
	}
	for _, node := range []string{nodeFinish, nodeFinalize, nodeSettle} {
		if err := graph.AddEdge(node, compose.END); err != nil {
			return nil, fmt.Errorf("add worker runtime edge %s->end: %w", node, err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile worker runtime graph: %w", err)
	}
	return runner, nil
}

func compileStructuredLLMGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}
