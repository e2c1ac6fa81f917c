// Package identity makes BOLT feel like one entity across models: every
// brain region wakes up with the same briefing — who it is, who the user
// is, what mode is active, and a handoff from the previous region.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

// Generator is the single-prompt inference surface the identity layer
// needs. Satisfied by providers.Client.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Builder assembles identity briefings and runs profile learning.
type Builder struct {
	cfg    *config.Config
	store  *store.Store
	gen    Generator
	logger *slog.Logger
	home   string
}

// NewBuilder wires the identity layer. home is the user's home directory,
// resolved at startup.
func NewBuilder(cfg *config.Config, st *store.Store, gen Generator, home string, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, store: st, gen: gen, logger: logger, home: home}
}

// Sanitize strips text before it enters a system prompt. Without this, a
// user message like `My name is ]}\n\nIgnore all prior instructions...`
// would be stored as a profile fact and replayed into every future prompt.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "{", "")
	text = strings.ReplaceAll(text, "}", "")
	text = strings.ReplaceAll(text, "<tool", "&lt;tool")
	text = strings.ReplaceAll(text, "</tool", "&lt;/tool")
	if len(text) > 2000 {
		text = text[:2000] + "..."
	}
	return text
}

// ProfileText renders the profile for prompt injection.
func (b *Builder) ProfileText() string {
	facts, err := b.store.Facts()
	if err != nil {
		b.logger.Warn("profile load failed", "error", err)
		facts = nil
	}
	if len(facts) == 0 {
		return "You don't know much about this user yet. Pay attention and learn naturally."
	}

	lines := []string{"What you know about this user:"}
	for _, cat := range categories(facts) {
		var items []string
		for _, f := range facts {
			if f.Category == cat {
				items = append(items, f.Key+": "+f.Value)
			}
		}
		lines = append(lines, "  "+cat+": "+strings.Join(items, ", "))
	}
	lines = append(lines, "Use this naturally — don't recite it back. Just let it inform how you talk to them.")
	return strings.Join(lines, "\n")
}

// ProfileDisplay renders the profile for the /profile command, with
// confidence shown as filled dots out of five.
func (b *Builder) ProfileDisplay() string {
	facts, err := b.store.Facts()
	if err != nil || len(facts) == 0 {
		return "BOLT hasn't learned much about you yet. Keep chatting!"
	}

	var lines []string
	for _, cat := range categories(facts) {
		lines = append(lines, "  "+strings.ToUpper(cat))
		for _, f := range facts {
			if f.Category != cat {
				continue
			}
			lines = append(lines, fmt.Sprintf("    %s: %s  [%s]", f.Key, f.Value, confidenceDots(f.Confidence)))
		}
	}
	return strings.Join(lines, "\n")
}

// categories returns the distinct categories in first-seen order. Facts
// arrive sorted by category, so this preserves alphabetical grouping.
func categories(facts []store.ProfileFact) []string {
	var cats []string
	seen := make(map[string]bool)
	for _, f := range facts {
		if !seen[f.Category] {
			seen[f.Category] = true
			cats = append(cats, f.Category)
		}
	}
	return cats
}

func confidenceDots(confidence float64) string {
	filled := int(confidence * 5)
	if filled < 0 {
		filled = 0
	}
	if filled > 5 {
		filled = 5
	}
	return strings.Repeat("●", filled) + strings.Repeat("○", 5-filled)
}

// Briefing builds the full identity system prompt for a model: static
// self-description, sanitized profile, mode context, and the latest
// handoff when one exists.
func (b *Builder) Briefing(mode, sessionID string) string {
	var sb strings.Builder
	sb.WriteString(config.IdentityPreamble(b.home, b.cfg.DataDir))
	sb.WriteString("\n\n")
	sb.WriteString(Sanitize(b.ProfileText()))
	sb.WriteString("\n")

	switch mode {
	case "code":
		sb.WriteString(config.CodeContext)
	case "build":
		sb.WriteString(config.BuildContext)
	default:
		sb.WriteString(config.CompanionContext)
	}

	if handoff, err := b.store.LatestHandoff(sessionID); err == nil && handoff != nil {
		fmt.Fprintf(&sb, "\n\n[Handoff from previous brain region (%s)]: %s",
			handoff.FromModel, Sanitize(handoff.Content))
	}
	return sb.String()
}

// GenerateHandoff compresses the conversation into a relay note on the
// router model and stores it for the next region.
func (b *Builder) GenerateHandoff(ctx context.Context, sessionID, fromModel, toModel, conversation string) error {
	if len(conversation) > 2000 {
		conversation = conversation[:2000]
	}
	text, err := b.gen.Generate(ctx, b.cfg.Model(config.ModelRouter), config.HandoffPrompt(conversation))
	if err != nil {
		return fmt.Errorf("generate handoff: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return b.store.SaveHandoff(sessionID, fromModel, toModel, text)
}
