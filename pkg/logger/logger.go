package logx

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Level        string `default:""`
	// Output is stderr or stdout. Replies go to stdout, so logs default to stderr.
	Output string `default:"stderr"`
}

var DefaultConfig = &Config{
	Output: "stderr",
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

func Init(opts ...Config) {
	conf := safe(opts...)

	var out io.Writer = os.Stderr
	if strings.EqualFold(strings.TrimSpace(conf.Output), "stdout") {
		out = os.Stdout
	}
	if conf.PrettyFormat {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).
		Level(levelFor(conf)).
		With().Timestamp().Caller().Stack().
		Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// levelFor prefers an explicit level; Debug only lowers the default.
func levelFor(conf *Config) zerolog.Level {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(conf.Level))); err == nil && conf.Level != "" {
		return lvl
	}
	if conf.Debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// WithConversation attaches a logger carrying the conversation and turn ids
// to ctx. log.Ctx(ctx) returns it downstream.
func WithConversation(ctx context.Context, conversationID, turnID string) context.Context {
	l := log.Ctx(ctx).With().
		Str("conversation_id", conversationID).
		Str("turn_id", turnID).
		Logger()
	return l.WithContext(ctx)
}

// WithWorker adds the worker running the current hop.
func WithWorker(ctx context.Context, worker string) context.Context {
	l := log.Ctx(ctx).With().Str("worker", worker).Logger()
	return l.WithContext(ctx)
}
