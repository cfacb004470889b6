package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
	handoffx "github.com/tanpawarit/airline-handoff-router/agent/handoff"
	nodex "github.com/tanpawarit/airline-handoff-router/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
	logx "github.com/tanpawarit/airline-handoff-router/pkg/logger"
)

var (
	ErrInvalidMessage      = nodex.ErrInvalidMessage
	ErrInvalidConversation = nodex.ErrInvalidConversation
	ErrMessageTooLong      = nodex.ErrMessageTooLong
	ErrHopLimit            = nodex.ErrHopLimit
)

type Reply = nodex.Reply

// GenericFailureReply is shown when a turn fails for an internal reason.
const GenericFailureReply = "Sorry, something went wrong on our side and I couldn't finish that. Please try again in a moment."

// committedFailureReply is shown instead when the failed turn already
// changed a booking.
const committedFailureReply = "Your %s went through, but something went wrong on our side before I could finish the rest. Please try again in a moment."

// failedTurnSaveTimeout bounds persisting a failed turn.
const failedTurnSaveTimeout = 5 * time.Second

const defaultLockStripes = 64

type Config struct {
	MaxHops     int           `split_words:"true" default:"4"`
	MaxSteps    int           `split_words:"true" default:"3"`
	TurnTimeout time.Duration `split_words:"true" default:"60s"`
	LockStripes int           `split_words:"true" default:"64"`
}

type Deps struct {
	Store       statex.Store
	Workers     nodex.Workers
	Invoker     *toolx.Invoker
	Coordinator *handoffx.Coordinator
	// Gate holds every check; each worker gets the subset it declares.
	Gate *guardrailx.Gate
	// Sink receives each turn's events after the turn. Optional.
	Sink eventx.Sink
	// Reflector routes the unanswered part of a multi-request message.
	// Optional.
	Reflector contractx.Reflector
	// Summarizer folds old transcript exchanges. Optional; plain lines are
	// kept without it.
	Summarizer contractx.Summarizer
}

type Orchestrator struct {
	store       statex.Store
	workers     nodex.Workers
	invoker     *toolx.Invoker
	coordinator *handoffx.Coordinator
	gates       nodex.Gates
	sink        eventx.Sink
	reflector   contractx.Reflector
	summarizer  contractx.Summarizer

	graphRunner compose.Runnable[nodex.GraphInput, nodex.Reply]

	locks       []chan struct{}
	maxHops     int
	maxSteps    int
	turnTimeout time.Duration

	now   func() time.Time
	newID func() string
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Workers == nil {
		return nil, errors.New("worker registry is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("tool invoker is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("handoff coordinator is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("guardrail gate is required")
	}

	gates, err := gatesFor(deps.Coordinator.Graph().Workers(), deps.Workers, deps.Gate)
	if err != nil {
		return nil, err
	}

	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = nodex.DefaultMaxHops
	}

	o := &Orchestrator{
		store:       deps.Store,
		workers:     deps.Workers,
		invoker:     deps.Invoker,
		coordinator: deps.Coordinator,
		gates:       gates,
		sink:        deps.Sink,
		reflector:   deps.Reflector,
		summarizer:  deps.Summarizer,
		locks:       newStripes(stripes),
		maxHops:     maxHops,
		maxSteps:    cfg.MaxSteps,
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// gatesFor restricts the gate to each worker's declared checks. Every worker
// of the routing graph must be registered.
func gatesFor(ids []contractx.WorkerID, workers nodex.Workers, gate *guardrailx.Gate) (nodex.Gates, error) {
	gates := make(nodex.Gates, len(ids))
	var errs error
	for _, id := range ids {
		w, err := workers.Worker(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		g, err := gate.Select(w.Capabilities().Guardrails...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("worker=%s: %w", id, err))
			continue
		}
		gates[id] = g
	}
	if errs != nil {
		return nil, errs
	}
	return gates, nil
}

// HandleTurn processes one inbound message. Turns of the same conversation
// run one at a time; a caller whose ctx ends while waiting gets ctx's error
// and no reply. Invalid input returns an error and no reply. Internal
// failures return a degraded reply together with the cause. The failed
// turn's events are still published and persisted when possible.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID string, message string) (Reply, error) {
	conversationID = strings.TrimSpace(conversationID)
	turnID := o.newID()
	ctx = logx.WithConversation(ctx, conversationID, turnID)

	if conversationID != "" {
		release, err := o.acquire(ctx, conversationID)
		if err != nil {
			return Reply{}, err
		}
		defer release()
	}

	runCtx := ctx
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	progress := &nodex.Progress{}
	reply, err := o.graphRunner.Invoke(runCtx, nodex.GraphInput{
		ConversationID: conversationID,
		TurnID:         turnID,
		Text:           message,
		Progress:       progress,
	})
	if err != nil {
		if invalidInput(err) {
			return Reply{}, err
		}
		return o.fail(ctx, conversationID, turnID, progress, err), err
	}

	o.publish(ctx, reply)
	log.Ctx(ctx).Info().
		Str("worker", string(reply.Worker)).
		Bool("tripped", reply.Tripped).
		Bool("degraded", reply.Degraded).
		Int("events", len(reply.Events)).
		Msg("turn completed")
	return reply, nil
}

// fail closes a turn that hit an internal error. Store writes of mutating
// tools are already committed, so the reply names them.
func (o *Orchestrator) fail(ctx context.Context, conversationID, turnID string, progress *nodex.Progress, cause error) Reply {
	committed := progress.Committed()
	text := GenericFailureReply
	if len(committed) > 0 {
		text = fmt.Sprintf(committedFailureReply, o.capabilities(committed))
	}
	log.Ctx(ctx).Error().Err(cause).Strs("committed", committed).Msg("turn failed")

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failedTurnSaveTimeout)
	defer cancel()
	events, err := progress.Fail(saveCtx, o.store, text)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("persist failed turn")
	}

	reply := Reply{
		ConversationID: conversationID,
		TurnID:         turnID,
		Text:           text,
		Worker:         progress.Worker(),
		Degraded:       true,
		Events:         events,
	}
	o.publish(ctx, reply)
	return reply
}

func (o *Orchestrator) capabilities(tools []string) string {
	seen := make(map[string]struct{}, len(tools))
	var names []string
	for _, tool := range tools {
		name := o.invoker.Catalog().Capability(tool)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return strings.Join(names, " and ")
}

func invalidInput(err error) bool {
	return errors.Is(err, ErrInvalidConversation) ||
		errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrMessageTooLong)
}

func (o *Orchestrator) publish(ctx context.Context, reply Reply) {
	if o.sink == nil || len(reply.Events) == 0 {
		return
	}
	if err := o.sink.Publish(context.WithoutCancel(ctx), reply.ConversationID, reply.Events); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("publish turn events")
	}
}

func newStripes(n int) []chan struct{} {
	stripes := make([]chan struct{}, n)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return stripes
}

// acquire waits for the conversation's stripe or for ctx to end.
func (o *Orchestrator) acquire(ctx context.Context, conversationID string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	stripe := o.locks[h.Sum32()%uint32(len(o.locks))]

	select {
	case stripe <- struct{}{}:
		return func() { <-stripe }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for conversation turn: %w", ctx.Err())
	}
}
