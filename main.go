package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"github.com/tanpawarit/airline-handoff-router/agent/agents/orchestrator"
	"github.com/tanpawarit/airline-handoff-router/agent/agents/specialist"
	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
	handoffx "github.com/tanpawarit/airline-handoff-router/agent/handoff"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	llmx "github.com/tanpawarit/airline-handoff-router/agent/llm"
	promptx "github.com/tanpawarit/airline-handoff-router/agent/prompt"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
	anthropicx "github.com/tanpawarit/airline-handoff-router/pkg/anthropic"
	configx "github.com/tanpawarit/airline-handoff-router/pkg/config"
	_ "github.com/tanpawarit/airline-handoff-router/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/airline-handoff-router/pkg/openrouter"
	qstashx "github.com/tanpawarit/airline-handoff-router/pkg/qstash"
)

type AppConfig struct {
	SessionStore     string        `split_words:"true" default:"memory"`
	ItineraryStore   string        `split_words:"true" default:"memory"`
	SessionTTL       time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	ModelTimeout     time.Duration `split_words:"true" default:"20s"`
	ModelAttempts    int           `split_words:"true" default:"2"`
	ToolTimeout      time.Duration `split_words:"true" default:"10s"`
	ConnectionBuffer time.Duration `split_words:"true" default:"1h"`
	Alternates       int           `split_words:"true" default:"2"`
	LogEvents        bool          `split_words:"true" default:"true"`

	orchestrator.Config
}

func (c AppConfig) Validate() error {
	switch c.SessionStore {
	case "memory", "upstash":
	default:
		return fmt.Errorf("unknown session store %q", c.SessionStore)
	}
	switch c.ItineraryStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown itinerary store %q", c.ItineraryStore)
	}
	if c.ModelAttempts < 1 {
		return errors.New("model attempts must be at least 1")
	}
	return nil
}

type GuardrailConfig struct {
	Provider     string        `default:"openai"`
	Model        string        `default:"openai/gpt-4o-mini"`
	CheckTimeout time.Duration `split_words:"true" default:"5s"`
}

// Script replays conversations; each conversation's turns run in order.
type Script struct {
	Conversations []struct {
		ID    string   `yaml:"id"`
		Turns []string `yaml:"turns"`
	} `yaml:"conversations"`
}

func main() {
	scriptPath := flag.String("script", "", "replay conversations from a YAML script instead of reading stdin")
	parallel := flag.Int("parallel", 4, "conversations replayed concurrently")
	conversationID := flag.String("conversation", "", "conversation id for interactive mode")

	appCfg := configx.MustNew[AppConfig]("APP")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	guardCfg := configx.MustNew[GuardrailConfig]("GUARDRAIL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, cleanup, err := build(ctx, *appCfg, *llmCfg, *guardCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}
	defer cleanup()

	if *scriptPath != "" {
		if err := replay(ctx, o, *scriptPath, *parallel); err != nil {
			log.Fatal().Err(err).Msg("replay failed")
		}
		return
	}
	interactive(ctx, o, *conversationID)
}

func build(ctx context.Context, appCfg AppConfig, llmCfg llmx.Config, guardCfg GuardrailConfig) (*orchestrator.Orchestrator, func(), error) {
	cleanup := func() {}

	itineraries, closeItineraries, err := itineraryStore(ctx, appCfg)
	if err != nil {
		return nil, cleanup, err
	}
	cleanup = closeItineraries

	sessions, err := sessionStore(appCfg)
	if err != nil {
		return nil, cleanup, err
	}

	graph, err := handoffx.DefaultGraph()
	if err != nil {
		return nil, cleanup, fmt.Errorf("routing graph: %w", err)
	}
	coordinator, err := handoffx.NewCoordinator(graph, handoffx.DefaultHydrators(itineraries, uuid.NewString))
	if err != nil {
		return nil, cleanup, err
	}

	prompts := promptx.LoadPromptSet()
	gate, err := guardrailGate(guardCfg, llmCfg, prompts)
	if err != nil {
		return nil, cleanup, err
	}

	settings := toolx.Settings{ConnectionBuffer: appCfg.ConnectionBuffer, Alternates: appCfg.Alternates}
	models := specialist.ModelsFromConfig(llmCfg)
	modelOpts := specialist.Options{
		Settings:      settings,
		ModelTimeout:  appCfg.ModelTimeout,
		ModelAttempts: appCfg.ModelAttempts,
	}
	registry, err := specialist.NewRegistry(ctx, specialist.Deps{
		Graph:      graph,
		Catalog:    toolx.DefaultCatalog(),
		Prompts:    prompts,
		Models:     models,
		Guardrails: gate.Names(),
		Options:    modelOpts,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("worker registry: %w", err)
	}

	// Reflection and summaries run on the triage model.
	triageModel, err := models(ctx, contractx.WorkerTriage)
	if err != nil {
		return nil, cleanup, err
	}
	reflector, err := specialist.NewLLMReflector(ctx, triageModel, prompts.Reflect, modelOpts)
	if err != nil {
		return nil, cleanup, err
	}
	summarizer, err := specialist.NewLLMSummarizer(ctx, triageModel, prompts.Summarize, modelOpts)
	if err != nil {
		return nil, cleanup, err
	}

	sink, err := eventSink(appCfg)
	if err != nil {
		return nil, cleanup, err
	}

	o, err := orchestrator.New(orchestrator.Deps{
		Store:       sessions,
		Workers:     registry,
		Invoker:     toolx.NewInvoker(toolx.DefaultCatalog(), itineraries, toolx.Options{Settings: settings, Timeout: appCfg.ToolTimeout}),
		Coordinator: coordinator,
		Gate:        gate,
		Sink:        sink,
		Reflector:   reflector,
		Summarizer:  summarizer,
	}, appCfg.Config)
	if err != nil {
		return nil, cleanup, err
	}
	return o, cleanup, nil
}

func itineraryStore(ctx context.Context, appCfg AppConfig) (itineraryx.Store, func(), error) {
	if appCfg.ItineraryStore != "postgres" {
		return itineraryx.NewDemoStore(), func() {}, nil
	}
	pgCfg := configx.MustNew[itineraryx.PostgresConfig]("POSTGRES")
	store, err := itineraryx.OpenPostgres(ctx, *pgCfg)
	if err != nil {
		return nil, func() {}, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close postgres")
		}
	}, nil
}

func sessionStore(appCfg AppConfig) (statex.Store, error) {
	if appCfg.SessionStore != "upstash" {
		return statex.NewMemoryStore(appCfg.SessionTTL), nil
	}
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	return statex.NewUpstashRedisStore(*redisCfg, statex.WithTTL(appCfg.SessionTTL))
}

func guardrailGate(guardCfg GuardrailConfig, llmCfg llmx.Config, prompts promptx.PromptSet) (*guardrailx.Gate, error) {
	var (
		classifier guardrailx.Classifier
		err        error
	)
	switch strings.ToLower(strings.TrimSpace(guardCfg.Provider)) {
	case "openai":
		client := openrouterx.NewClient(llmCfg.OpenRouterFor(""))
		if client == nil {
			return nil, errors.New("guardrail openai client needs OPENROUTER_API_KEY")
		}
		classifier, err = guardrailx.NewOpenAIClassifier(client, guardCfg.Model)
	case "anthropic":
		anthropicCfg := configx.MustNew[anthropicx.Config]("ANTHROPIC")
		client, cerr := anthropicx.NewClient(*anthropicCfg)
		if cerr != nil {
			return nil, cerr
		}
		classifier, err = guardrailx.NewAnthropicClassifier(client, anthropicCfg.Model, anthropicCfg.MaxTokens)
	case "rules":
		classifier, err = guardrailx.NewRuleClassifier(guardrailx.DefaultRules())
	default:
		return nil, fmt.Errorf("unknown guardrail provider %q", guardCfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("guardrail classifier: %w", err)
	}

	return guardrailx.NewGate(classifier,
		[]guardrailx.Check{
			guardrailx.JailbreakCheck(prompts.Jailbreak),
			guardrailx.RelevanceCheck(prompts.Relevance),
		},
		guardrailx.WithCheckTimeout(guardCfg.CheckTimeout),
	)
}

func eventSink(appCfg AppConfig) (eventx.Sink, error) {
	var sinks eventx.MultiSink
	if appCfg.LogEvents {
		sinks = append(sinks, eventx.NewLogSink(log.Logger))
	}
	qstashCfg, err := configx.Optional[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, err
	}
	if qstashCfg != nil {
		client, err := qstashx.NewClient(*qstashCfg)
		if err != nil {
			return nil, fmt.Errorf("qstash client: %w", err)
		}
		sinks = append(sinks, eventx.NewQStashSink(client, qstashCfg.Destination))
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func replay(ctx context.Context, o *orchestrator.Orchestrator, path string, parallel int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(raw, &script); err != nil {
		return fmt.Errorf("parse script: %w", err)
	}

	transcripts := make([][]string, len(script.Conversations))
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(max(parallel, 1))
	for i, conv := range script.Conversations {
		id := conv.ID
		if id == "" {
			id = uuid.NewString()
		}
		p.Go(func(ctx context.Context) error {
			for _, turn := range conv.Turns {
				reply, err := o.HandleTurn(ctx, id, turn)
				if reply.Text == "" && err != nil {
					return fmt.Errorf("conversation %s: %w", id, err)
				}
				transcripts[i] = append(transcripts[i],
					fmt.Sprintf("[%s] user: %s", id, turn),
					fmt.Sprintf("[%s] %s: %s", id, reply.Worker, reply.Text))
			}
			return nil
		})
	}
	err = p.Wait()

	for _, lines := range transcripts {
		for _, line := range lines {
			fmt.Println(line)
		}
	}
	return err
}

func interactive(ctx context.Context, o *orchestrator.Orchestrator, conversationID string) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	fmt.Printf("Deterministic Airlines support (conversation %s). Type a message, or 'quit'.\n", conversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() || ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			return
		}

		reply, err := o.HandleTurn(ctx, conversationID, text)
		if reply.Text == "" && err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Printf("[%s] %s\n", reply.Worker, reply.Text)
	}
}
