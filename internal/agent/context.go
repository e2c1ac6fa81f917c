package agent

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/identity"
	"github.com/nextlevelbuilder/bolt/internal/providers"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

// recentWindow is how far back the assembler looks before the budget
// trims further.
const recentWindow = 50

// Assembler builds the message list for a turn under the token budget.
type Assembler struct {
	cfg      *config.Config
	store    *store.Store
	identity *identity.Builder
	logger   *slog.Logger
}

// NewAssembler wires the context assembler.
func NewAssembler(cfg *config.Config, st *store.Store, id *identity.Builder, logger *slog.Logger) *Assembler {
	return &Assembler{cfg: cfg, store: st, identity: id, logger: logger}
}

// Assemble builds the context: identity briefing first (charged against
// the budget but never dropped, even when it alone overshoots), then the
// latest summary and active task if they fit, then as many recent
// messages as the remaining budget allows, newest given priority but
// emitted in chronological order.
func (a *Assembler) Assemble(sessionID, mode string) []providers.Message {
	budget := a.cfg.MaxContextTokens
	var messages []providers.Message

	briefing := a.identity.Briefing(mode, sessionID)
	messages = append(messages, providers.Message{Role: "system", Content: briefing})
	budget -= store.EstimateTokens(briefing)

	if summary, err := a.store.LatestSummary(sessionID); err == nil && summary != nil {
		text := fmt.Sprintf("[Conversation summary so far]: %s", summary.Text)
		if cost := store.EstimateTokens(text); cost < budget {
			messages = append(messages, providers.Message{Role: "system", Content: text})
			budget -= cost
		}
	}

	if task, err := a.store.ActiveTask(); err == nil && task != nil {
		text := fmt.Sprintf("[Current task]: %s (status: %s)", task.Title, task.Status)
		if cost := store.EstimateTokens(text); cost < budget {
			messages = append(messages, providers.Message{Role: "system", Content: text})
			budget -= cost
		}
	}

	recent, err := a.store.RecentMessages(sessionID, recentWindow)
	if err != nil {
		a.logger.Warn("recent messages load failed", "error", err)
		recent = nil
	}

	// Walk newest-first so the budget spends on what matters most, then
	// restore chronological order.
	var selected []store.Message
	total := 0
	for i := len(recent) - 1; i >= 0; i-- {
		cost := recent[i].TokenEstimate
		if cost == 0 {
			cost = store.EstimateTokens(recent[i].Content)
		}
		if total+cost > budget {
			break
		}
		selected = append(selected, recent[i])
		total += cost
	}
	for i := len(selected) - 1; i >= 0; i-- {
		m := selected[i]
		messages = append(messages, providers.Message{Role: contextRole(m.Role), Content: m.Content})
	}
	return messages
}

// contextRole maps stored roles to provider roles. Tool traffic rides as
// system so models treat it as ground truth, not something to imitate.
func contextRole(role string) string {
	switch role {
	case store.RoleTool, store.RoleToolResult:
		return "system"
	case store.RoleUser, store.RoleAssistant, store.RoleSystem:
		return role
	}
	return "user"
}
