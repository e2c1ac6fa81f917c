package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/providers"
	"github.com/nextlevelbuilder/bolt/internal/store"
	"github.com/nextlevelbuilder/bolt/internal/tools"
)

// Sink receives streamed text chunks as they arrive. Only the first
// generation of a turn streams; follow-ups after tool calls are delivered
// whole.
type Sink func(chunk string)

// Executor runs one full turn: persist, classify, assemble, generate with
// the tool loop, persist the reply.
type Executor struct {
	cfg       *config.Config
	store     *store.Store
	router    *Router
	assembler *Assembler
	registry  *tools.Registry
	local     providers.Client
	cloud     providers.Client
	logger    *slog.Logger
}

// NewExecutor wires the turn executor. cloud may be a never-available
// client; the router then never picks it.
func NewExecutor(cfg *config.Config, st *store.Store, router *Router, assembler *Assembler,
	registry *tools.Registry, local, cloud providers.Client, logger *slog.Logger) *Executor {
	return &Executor{
		cfg: cfg, store: st, router: router, assembler: assembler,
		registry: registry, local: local, cloud: cloud, logger: logger,
	}
}

// ProcessMessage handles one user message and returns the full response.
// mode is the session's current mode; the category may narrow it for this
// turn. Everything user-visible also reaches sink.
func (e *Executor) ProcessMessage(ctx context.Context, sessionID, userMessage, mode string, sink Sink) (string, error) {
	if _, err := e.store.SaveMessage(sessionID, store.RoleUser, userMessage); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}

	category := e.router.Classify(ctx, userMessage)
	modelKey := e.router.PickModel(ctx, category, mode)
	effectiveMode := EffectiveMode(category)
	e.store.LogEvent("route", fmt.Sprintf("%s -> %s (mode=%s)", category, modelKey, effectiveMode))
	e.logger.Info("route", "category", category, "model", modelKey, "mode", effectiveMode)

	messages := e.assembler.Assemble(sessionID, effectiveMode)
	response := e.generateWithTools(ctx, sessionID, modelKey, messages, sink)

	if _, err := e.store.SaveMessage(sessionID, store.RoleAssistant, response); err != nil {
		return "", fmt.Errorf("save assistant message: %w", err)
	}
	e.store.LogEvent("response", fmt.Sprintf("model=%s, len=%d", modelKey, len(response)))
	return response, nil
}

// client returns the backend for a model key.
func (e *Executor) client(key config.ModelKey) providers.Client {
	if key == config.ModelCloud {
		return e.cloud
	}
	return e.local
}

// generateWithTools is the bounded tool loop. Each iteration generates,
// parses inline tool calls, executes them sequentially, and feeds the
// results back. The loop bound holds even if the model asks for tools
// every single time.
func (e *Executor) generateWithTools(ctx context.Context, sessionID string, modelKey config.ModelKey, messages []providers.Message, sink Sink) string {
	client := e.client(modelKey)
	model := e.cfg.Model(modelKey)
	var accumulated strings.Builder
	var fullText string

	for loop := 0; loop < e.cfg.MaxToolLoops; loop++ {
		var sb strings.Builder
		for ev := range client.Chat(ctx, model, messages) {
			switch ev.Kind {
			case providers.EventText:
				sb.WriteString(ev.Text)
				if sink != nil && loop == 0 {
					sink(ev.Text)
				}
			case providers.EventError:
				if ev.Err != nil {
					e.logger.Warn("generation error", "model", model, "error", ev.Err)
					e.store.LogEvent("model_error", ev.Err.Error())
				}
				sb.WriteString(ev.Text)
				if sink != nil && loop == 0 {
					sink(ev.Text)
				}
			}
		}
		fullText = sb.String()

		calls, cleaned := tools.ParseCalls(fullText)
		if len(calls) == 0 {
			if sink != nil && loop > 0 {
				sink(fullText)
			}
			break
		}
		if sink != nil && loop > 0 && cleaned != "" {
			sink(cleaned)
		}

		var results []string
		for _, call := range calls {
			args := call.Args
			if len(args) > 100 {
				args = args[:100]
			}
			e.store.LogEvent("tool_call", call.Name+": "+args)

			toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout())
			res := e.registry.Execute(toolCtx, call.Name, call.Args)
			cancel()

			status := "ok"
			if res.IsError {
				status = "err"
			}
			e.store.LogEvent("tool_result", call.Name+": "+status)
			results = append(results, tools.FormatResult(call.Name, res.ForLLM))

			e.store.SaveMessage(sessionID, store.RoleTool, "Called "+call.Name)
			short := res.ForLLM
			if len(short) > 500 {
				short = short[:500]
			}
			e.store.SaveMessage(sessionID, store.RoleToolResult, short)
		}

		if strings.TrimSpace(cleaned) != "" {
			accumulated.WriteString(cleaned)
			accumulated.WriteString("\n")
		}
		messages = append(messages,
			providers.Message{Role: "assistant", Content: fullText},
			providers.Message{Role: "user", Content: "Tool results:\n" + strings.Join(results, "\n")},
		)
	}

	if accumulated.Len() > 0 {
		return accumulated.String() + fullText
	}
	return fullText
}
