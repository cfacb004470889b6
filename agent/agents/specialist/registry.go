package specialist

import (
	"context"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"go.uber.org/multierr"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	handoffx "github.com/tanpawarit/airline-handoff-router/agent/handoff"
	llmx "github.com/tanpawarit/airline-handoff-router/agent/llm"
	promptx "github.com/tanpawarit/airline-handoff-router/agent/prompt"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
)

// Options is the caller policy for model calls.
type Options struct {
	Settings      toolx.Settings
	ModelTimeout  time.Duration
	ModelAttempts int
}

func (o Options) retryPolicy() retryPolicy {
	return retryPolicy{attempts: max(o.ModelAttempts, 1), timeout: o.ModelTimeout}
}

// ModelSource returns the decision-service model of one worker.
type ModelSource func(ctx context.Context, worker contractx.WorkerID) (einomodel.ToolCallingChatModel, error)

// ModelsFromConfig builds one chat model per worker from cfg.
func ModelsFromConfig(cfg llmx.Config) ModelSource {
	return func(ctx context.Context, worker contractx.WorkerID) (einomodel.ToolCallingChatModel, error) {
		modelCfg := cfg.OpenRouterFor(worker)
		m, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, worker, err)
		}
		return m, nil
	}
}

type Deps struct {
	Graph   *handoffx.Graph
	Catalog *toolx.Catalog
	Prompts promptx.PromptSet
	Models  ModelSource
	// Guardrails are the check names the gate can run.
	Guardrails []string
	// Classifier overrides the model-backed triage classifier.
	Classifier contractx.Classifier
	Options    Options
}

// Registry holds one worker per identity declared in the routing graph.
type Registry struct {
	workers map[contractx.WorkerID]contractx.Worker
}

// NewRegistry builds every worker of the graph. Edges already exist, so each
// worker receives its transfer targets directly. Tool and guardrail
// allowlists are checked here and every problem is reported.
func NewRegistry(ctx context.Context, deps Deps) (*Registry, error) {
	if deps.Graph == nil || deps.Catalog == nil || deps.Models == nil {
		return nil, fmt.Errorf("%w: graph, catalog and models are required", contractx.ErrValidation)
	}

	known := make(map[string]struct{}, len(deps.Guardrails))
	for _, name := range deps.Guardrails {
		known[name] = struct{}{}
	}

	var errs error
	variants := make(map[contractx.WorkerID]variant)
	for _, id := range deps.Graph.Workers() {
		v, err := variantFor(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, deps.Catalog.Require(v.tools...))
		for _, g := range v.guardrails {
			if _, ok := known[g]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("%w: worker=%s declares unknown guardrail %q", contractx.ErrValidation, id, g))
			}
		}
		if _, err := deps.Prompts.For(id); err != nil {
			errs = multierr.Append(errs, err)
		}
		variants[id] = v
	}
	if errs != nil {
		return nil, errs
	}

	r := &Registry{workers: make(map[contractx.WorkerID]contractx.Worker, len(variants))}
	for _, id := range deps.Graph.Workers() {
		w, err := buildWorker(ctx, deps, variants[id])
		if err != nil {
			return nil, err
		}
		r.workers[id] = w
	}
	return r, nil
}

func buildWorker(ctx context.Context, deps Deps, v variant) (contractx.Worker, error) {
	instructions, err := deps.Prompts.For(v.id)
	if err != nil {
		return nil, err
	}
	targets := deps.Graph.Targets(v.id)

	if v.id == contractx.WorkerTriage {
		classifier := deps.Classifier
		if classifier == nil {
			m, err := deps.Models(ctx, v.id)
			if err != nil {
				return nil, err
			}
			if classifier, err = NewLLMClassifier(ctx, m, instructions); err != nil {
				return nil, err
			}
		}
		return newTriageWorker(v, targets, classifier, deps.Options)
	}

	m, err := deps.Models(ctx, v.id)
	if err != nil {
		return nil, err
	}
	infos, err := deps.Catalog.Infos(v.tools)
	if err != nil {
		return nil, err
	}
	return newToolWorker(ctx, v, targets, m, infos, instructions,
		deps.Prompts.Finalize, deps.Prompts.Correct, deps.Catalog.Capability, deps.Options)
}

func (r *Registry) Worker(id contractx.WorkerID) (contractx.Worker, error) {
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: no worker registered for %q", contractx.ErrValidation, id)
	}
	return w, nil
}
