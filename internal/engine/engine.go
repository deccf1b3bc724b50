// Package engine implements the turn loop: one inference call, zero or
// more sequential tool dispatches, a history update, then loop or stop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/deskloop/deskloop/internal/chat"
	"github.com/deskloop/deskloop/internal/provider"
	"github.com/deskloop/deskloop/internal/tools"
	"github.com/deskloop/deskloop/internal/wire"
)

// Image retention policy applied before every inference call: keep the
// four most recent screenshots, and only prune once at least two are
// removable so the history isn't rewritten on every single call.
const (
	imageKeep  = 4
	imageBatch = 2
)

// Turn is one in-flight engine invocation. Interrupt requests a
// cooperative pause, honored at the next checkpoint (before an inference
// call or a tool dispatch); work already in flight runs to completion.
type Turn struct {
	interrupted atomic.Bool
}

func NewTurn() *Turn {
	return &Turn{}
}

func (t *Turn) Interrupt() {
	t.interrupted.Store(true)
}

func (t *Turn) Interrupted() bool {
	return t.interrupted.Load()
}

// EventSink receives turn events in emission order.
type EventSink interface {
	Send(ev wire.Event)
}

// Dispatcher is the tool dispatch table the engine calls into.
type Dispatcher interface {
	Schemas() []tools.Schema
	Invoke(ctx context.Context, name string, input map[string]any) *tools.Result
}

// QuotaGate authorizes turns against the user's credit balance.
type QuotaGate interface {
	CheckAndConsume(ctx context.Context) (bool, error)
	Check(ctx context.Context) (bool, error)
}

// Options carries the collaborators one session's engine needs. Every
// dependency is explicit; the engine holds no global state. An empty
// SystemPrompt selects the stock desktop prompt.
type Options struct {
	Provider     provider.Provider
	Tools        Dispatcher
	History      *chat.History
	Gate         QuotaGate
	Sink         EventSink
	Logger       *slog.Logger
	SystemPrompt string
}

// Engine drives turns for a single session. At most one turn runs at a
// time; the caller serializes Run invocations.
type Engine struct {
	provider provider.Provider
	tools    Dispatcher
	history  *chat.History
	gate     QuotaGate
	sink     EventSink
	logger   *slog.Logger
	system   string
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	system := opts.SystemPrompt
	if system == "" {
		system = systemPrompt
	}
	return &Engine{
		provider: opts.Provider,
		tools:    opts.Tools,
		history:  opts.History,
		gate:     opts.Gate,
		sink:     opts.Sink,
		logger:   logger,
		system:   system,
	}
}

// Run executes one turn for a submitted user message and returns when
// the turn completes, pauses, or fails. Cancelling ctx abandons the turn
// without touching history further; the caller owns teardown messaging.
func (e *Engine) Run(ctx context.Context, turn *Turn, userText string) {
	e.history.Append(chat.UserText(userText))

	allowed, err := e.gate.CheckAndConsume(ctx)
	if err != nil {
		e.fail(fmt.Errorf("quota check: %w", err))
		return
	}
	if !allowed {
		e.logger.Info("Turn blocked by quota")
		e.sink.Send(wire.OutOfCredits())
		e.sink.Send(wire.LoopComplete())
		return
	}

	for iteration := 0; ; iteration++ {
		if turn.Interrupted() {
			e.pause()
			return
		}
		if ctx.Err() != nil {
			return
		}

		// The credit was spent up front; later passes only verify the
		// balance hasn't drained elsewhere mid-turn.
		if iteration > 0 {
			allowed, err := e.gate.Check(ctx)
			if err != nil {
				e.fail(fmt.Errorf("quota re-check: %w", err))
				return
			}
			if !allowed {
				e.logger.Info("Turn stopped mid-loop by quota")
				e.sink.Send(wire.OutOfCredits())
				e.sink.Send(wire.LoopComplete())
				return
			}
		}

		if removed := e.history.PruneImages(imageKeep, imageBatch); removed > 0 {
			e.logger.Debug("Pruned history images", "removed", removed)
		}

		completion, err := e.provider.Complete(ctx, e.history.Messages(), e.system, e.tools.Schemas())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(err)
			return
		}
		e.logger.Debug("Inference complete", "parts", len(completion.Parts), "stop_reason", completion.StopReason)

		assistantParts := make([]chat.Part, 0, len(completion.Parts))
		var results []chat.Part
		aborted := false

		for _, part := range completion.Parts {
			switch part.Type {
			case provider.PartText:
				e.sink.Send(wire.Text(part.Text))
				assistantParts = append(assistantParts, chat.TextPart(part.Text))

			case provider.PartReasoning:
				// Surfaced to the client only; reasoning is not part of
				// the stored conversation.
				e.sink.Send(wire.Reasoning(part.Text))

			case provider.PartToolCall:
				call := part.ToolCall
				if aborted || turn.Interrupted() || ctx.Err() != nil {
					// Undispatched calls are dropped from the record;
					// every call the history keeps has run and can be
					// paired with its result when the session resumes.
					aborted = true
					continue
				}
				assistantParts = append(assistantParts, chat.ToolUsePart(call.ID, call.Name, call.Input))

				e.sink.Send(wire.ToolUse(call.Name, call.Input))
				result := e.tools.Invoke(ctx, call.Name, call.Input)
				if result == nil {
					continue
				}
				e.sink.Send(wire.ToolResult(result.Output, result.Error, result.Base64Image))
				results = append(results, chat.NewToolResultPart(call.ID, result.Output, result.Error, result.Base64Image))
			}
		}

		if ctx.Err() != nil {
			return
		}

		// One assistant message with the recorded response parts, then
		// one user message wrapping the produced results. Never partial
		// messages.
		if len(assistantParts) > 0 {
			e.history.Append(chat.AssistantMessage(assistantParts...))
		}
		if len(results) > 0 {
			e.history.Append(chat.UserMessage(results...))
		}

		if aborted {
			e.pause()
			return
		}
		if len(results) == 0 {
			e.sink.Send(wire.LoopComplete())
			return
		}
	}
}

// fail ends the turn after a provider or gate error. The session stays
// open; only the current turn is lost.
func (e *Engine) fail(err error) {
	e.logger.Error("Turn failed", "error", err)
	e.sink.Send(wire.ErrorResult(err.Error()))
	e.sink.Send(wire.LoopComplete())
}

func (e *Engine) pause() {
	e.logger.Info("Turn paused")
	e.sink.Send(wire.LoopPaused())
}
