// Package workers holds BOLT's background loops: the auto-summarizer,
// the task tracker, the profile learner, and the model heartbeat. Every
// worker has an explicit Stop and a configurable interval.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

// maxSummaryInput caps the transcript handed to the summarizer model.
const maxSummaryInput = 6000

// Generator is the single-prompt surface workers run on. Satisfied by
// providers.Client.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Summarizer watches the unsummarized message count and compresses
// history once it crosses the threshold.
type Summarizer struct {
	cfg       *config.Config
	store     *store.Store
	gen       Generator
	sessionID string
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	stopped   chan struct{}
}

// NewSummarizer builds the worker. interval is the poll cadence.
func NewSummarizer(cfg *config.Config, st *store.Store, gen Generator, sessionID string, interval time.Duration, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		cfg: cfg, store: st, gen: gen, sessionID: sessionID,
		interval: interval, logger: logger,
		stop: make(chan struct{}), stopped: make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *Summarizer) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Summarizer) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Summarizer) tick() {
	count, err := s.store.CountUnsummarized(s.sessionID)
	if err != nil {
		s.logger.Warn("summarizer count failed", "error", err)
		return
	}
	if count < s.cfg.SummaryInterval {
		return
	}
	if err := s.Summarize(context.Background()); err != nil {
		s.logger.Warn("summarize failed", "error", err)
		s.store.LogEvent("summarizer_error", err.Error())
	}
}

// Summarize compresses the unsummarized span now. Also called directly on
// shutdown so no conversation is left behind.
func (s *Summarizer) Summarize(ctx context.Context) error {
	msgs, err := s.store.UnsummarizedMessages(s.sessionID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Role+": "+m.Content)
	}
	conversation := strings.Join(parts, "\n")
	if len(conversation) > maxSummaryInput {
		conversation = conversation[:maxSummaryInput] + "\n... (truncated)"
	}

	summary, err := s.gen.Generate(ctx, s.cfg.Model(config.ModelRouter), config.SummarizerPrompt(conversation))
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	lastID := msgs[len(msgs)-1].ID
	if err := s.store.SaveSummary(s.sessionID, summary, lastID); err != nil {
		return err
	}
	s.store.LogEvent("summarized", fmt.Sprintf("covered through message #%d", lastID))
	return nil
}
