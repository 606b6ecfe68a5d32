// Package zerolog writes ferry signals to a zerolog logger.
package zerolog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/ferry"
)

// Bridge formats ferry events as zerolog entries.
type Bridge struct {
	logger zerolog.Logger
}

// Install hooks every ferry signal and logs it to logger. Hooks are
// process-wide, so Install should be called once at startup.
//
// Failures log at error level, revert and rejection outcomes at warn,
// lifecycle events at info and per-operation progress at debug.
func Install(logger zerolog.Logger) *Bridge {
	b := &Bridge{logger: logger}

	capitan.Hook(ferry.CommitStarted, b.handler(zerolog.DebugLevel, ferry.CommitStarted.Name()))
	capitan.Hook(ferry.CommitSucceeded, b.handler(zerolog.InfoLevel, ferry.CommitSucceeded.Name()))
	capitan.Hook(ferry.CommitFailed, b.handler(zerolog.ErrorLevel, ferry.CommitFailed.Name()))
	capitan.Hook(ferry.CommitReverted, b.handler(zerolog.WarnLevel, ferry.CommitReverted.Name()))

	capitan.Hook(ferry.BulkUpdateFailed, b.handler(zerolog.ErrorLevel, ferry.BulkUpdateFailed.Name()))
	capitan.Hook(ferry.RevertSucceeded, b.handler(zerolog.WarnLevel, ferry.RevertSucceeded.Name()))
	capitan.Hook(ferry.RevertFailed, b.handler(zerolog.ErrorLevel, ferry.RevertFailed.Name()))

	capitan.Hook(ferry.ReadCompleted, b.handler(zerolog.DebugLevel, ferry.ReadCompleted.Name()))
	capitan.Hook(ferry.ReadFailed, b.handler(zerolog.ErrorLevel, ferry.ReadFailed.Name()))
	capitan.Hook(ferry.DumpExecuted, b.handler(zerolog.DebugLevel, ferry.DumpExecuted.Name()))

	capitan.Hook(ferry.InitStarted, b.handler(zerolog.InfoLevel, ferry.InitStarted.Name()))
	capitan.Hook(ferry.InitStepFailed, b.handler(zerolog.ErrorLevel, ferry.InitStepFailed.Name()))
	capitan.Hook(ferry.InitCompleted, b.handler(zerolog.InfoLevel, ferry.InitCompleted.Name()))

	capitan.Hook(ferry.FeedStarted, b.handler(zerolog.InfoLevel, ferry.FeedStarted.Name()))
	capitan.Hook(ferry.FeedStopped, b.handler(zerolog.InfoLevel, ferry.FeedStopped.Name()))
	capitan.Hook(ferry.FeedStateChanged, b.handler(zerolog.InfoLevel, ferry.FeedStateChanged.Name()))
	capitan.Hook(ferry.FeedChangeReceived, b.handler(zerolog.DebugLevel, ferry.FeedChangeReceived.Name()))
	capitan.Hook(ferry.FeedDecodeFailed, b.handler(zerolog.WarnLevel, ferry.FeedDecodeFailed.Name()))
	capitan.Hook(ferry.FeedValidationFailed, b.handler(zerolog.WarnLevel, ferry.FeedValidationFailed.Name()))
	capitan.Hook(ferry.FeedApplyFailed, b.handler(zerolog.ErrorLevel, ferry.FeedApplyFailed.Name()))
	capitan.Hook(ferry.FeedApplySucceeded, b.handler(zerolog.InfoLevel, ferry.FeedApplySucceeded.Name()))

	return b
}

func (b *Bridge) handler(level zerolog.Level, signal string) func(context.Context, *capitan.Event) {
	return func(_ context.Context, e *capitan.Event) {
		ev := b.logger.WithLevel(level)
		if ev == nil {
			return
		}
		b.fields(ev, e).Str("signal", signal).Msg(signal)
	}
}

type stringKey struct {
	name string
	key  interface {
		From(*capitan.Event) (string, bool)
	}
}

var stringKeys = []stringKey{
	{"identifier", ferry.KeyIdentifier},
	{"kind", ferry.KeyKind},
	{"operation", ferry.KeyOperation},
	{"executor", ferry.KeyExecutor},
	{"step", ferry.KeyStep},
	{"state", ferry.KeyState},
	{"old_state", ferry.KeyOldState},
	{"new_state", ferry.KeyNewState},
	{"watcher_type", ferry.KeyWatcherType},
}

func (b *Bridge) fields(ev *zerolog.Event, e *capitan.Event) *zerolog.Event {
	for _, k := range stringKeys {
		if s, ok := k.key.From(e); ok {
			ev = ev.Str(k.name, s)
		}
	}
	if s, ok := ferry.KeyError.From(e); ok {
		ev = ev.Str(zerolog.ErrorFieldName, s)
	}
	if n, ok := ferry.KeyCount.From(e); ok {
		ev = ev.Int("count", n)
	}
	if n, ok := ferry.KeyProcessed.From(e); ok {
		ev = ev.Int("processed", n)
	}
	if n, ok := ferry.KeyUnattempted.From(e); ok {
		ev = ev.Int("unattempted", n)
	}
	if n, ok := ferry.KeyUnreverted.From(e); ok {
		ev = ev.Int("unreverted", n)
	}
	if d, ok := ferry.KeyDuration.From(e); ok {
		ev = ev.Dur("duration", d)
	}
	if d, ok := ferry.KeyDebounce.From(e); ok {
		ev = ev.Dur("debounce", d)
	}
	return ev
}
