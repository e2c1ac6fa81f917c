package identity

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/bolt/internal/config"
)

// extractedFact is one entry in the learner's JSON reply.
type extractedFact struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// LearnFromConversation extracts facts from a conversation slice and saves
// them to the profile. Runs on the router model — fast and cheap, called
// in the background so it never blocks the user. Returns the number of
// facts written.
func (b *Builder) LearnFromConversation(ctx context.Context, conversation string) (int, error) {
	facts, err := b.store.Facts()
	if err != nil {
		return 0, err
	}
	var existing []string
	for _, f := range facts {
		existing = append(existing, f.Category+"/"+f.Key+": "+f.Value)
	}
	existingText := "(empty profile)"
	if len(existing) > 0 {
		existingText = strings.Join(existing, "\n")
	}

	if len(conversation) > 2000 {
		conversation = conversation[:2000]
	}
	raw, err := b.gen.Generate(ctx, b.cfg.Model(config.ModelRouter), config.ProfileExtractPrompt(existingText, conversation))
	if err != nil {
		return 0, err
	}

	parsed := ParseFacts(raw)
	count := 0
	for _, f := range parsed {
		cat := strings.TrimSpace(f.Category)
		key := strings.TrimSpace(f.Key)
		val := strings.TrimSpace(f.Value)
		if cat == "" || key == "" || val == "" {
			continue
		}
		conf := f.Confidence
		if conf == 0 {
			conf = 0.5
		}
		written, err := b.store.SaveFact(cat, key, val, conf)
		if err != nil {
			b.logger.Warn("save fact failed", "category", cat, "key", key, "error", err)
			continue
		}
		if written {
			count++
		}
	}
	return count, nil
}

// ParseFacts pulls the JSON fact list out of a raw model reply. Small
// models wrap JSON in fences and prose, so this finds the outermost
// brackets rather than trusting the whole string. Unparseable replies
// yield no facts, never an error.
func ParseFacts(raw string) []extractedFact {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "```") {
		if _, rest, ok := strings.Cut(raw, "\n"); ok {
			raw = rest
		}
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(raw[start:end+1]), &facts); err != nil {
		return nil
	}
	return facts
}
