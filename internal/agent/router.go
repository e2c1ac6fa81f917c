// Package agent implements the turn pipeline: classify the message,
// pick a brain region, assemble context under the token budget, and run
// the generation/tool loop.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/providers"
)

// Category is the router's classification of one user message.
type Category string

const (
	CategoryCompanion   Category = "companion"
	CategoryCodeSimple  Category = "code_simple"
	CategoryCodeComplex Category = "code_complex"
	CategoryCodeBeast   Category = "code_beast"
	CategoryCloud       Category = "cloud"
)

// categoryPrecedence orders the substring scan of the router reply. A
// rambling reply mentioning several categories resolves to the most
// capable one.
var categoryPrecedence = []Category{
	CategoryCloud, CategoryCodeBeast, CategoryCodeComplex, CategoryCodeSimple, CategoryCompanion,
}

// Router classifies messages on the small always-resident model and maps
// categories to brain regions.
type Router struct {
	cfg            *config.Config
	local          providers.Client
	cloudAvailable func(context.Context) bool
	logger         *slog.Logger
}

// NewRouter wires the router. cloudAvailable is probed only when a
// category wants the cloud region.
func NewRouter(cfg *config.Config, local providers.Client, cloudAvailable func(context.Context) bool, logger *slog.Logger) *Router {
	return &Router{cfg: cfg, local: local, cloudAvailable: cloudAvailable, logger: logger}
}

// Classify runs the router model over the message and scans the reply.
// Anything unrecognized defaults to companion — a misroute to the warm
// conversational region beats a misroute to a cold coder.
func (r *Router) Classify(ctx context.Context, message string) Category {
	if len(message) > 500 {
		message = message[:500]
	}
	var sb strings.Builder
	stream := r.local.Chat(ctx, r.cfg.Model(config.ModelRouter), []providers.Message{
		{Role: "user", Content: config.RouterPrompt(message)},
	})
	for ev := range stream {
		if ev.Kind == providers.EventText {
			sb.WriteString(ev.Text)
		}
	}
	return ParseCategory(sb.String())
}

// ParseCategory scans a raw router reply for a known category, most
// capable first.
func ParseCategory(reply string) Category {
	lower := strings.ToLower(reply)
	for _, cat := range categoryPrecedence {
		if strings.Contains(lower, string(cat)) {
			return cat
		}
	}
	return CategoryCompanion
}

// PickModel maps a category to a model key, respecting the current mode.
// Cloud-wanting categories fall back to local heavyweights when the
// cloud is unreachable.
func (r *Router) PickModel(ctx context.Context, category Category, mode string) config.ModelKey {
	if mode == "companion" && category == CategoryCompanion {
		return config.ModelCompanion
	}

	if category == CategoryCloud || category == CategoryCodeBeast {
		if r.cloudAvailable != nil && r.cloudAvailable(ctx) {
			return config.ModelCloud
		}
		if category == CategoryCodeBeast {
			return config.ModelBeast
		}
		return config.ModelWorkerHeavy
	}

	switch category {
	case CategoryCompanion:
		return config.ModelCompanion
	case CategoryCodeSimple:
		return config.ModelFastCode
	case CategoryCodeComplex:
		return config.ModelWorkerHeavy
	}
	return config.ModelCompanion
}

// EffectiveMode is the identity context for this response: companion
// stays companion, everything else briefs as code.
func EffectiveMode(category Category) string {
	if category == CategoryCompanion {
		return "companion"
	}
	return "code"
}
