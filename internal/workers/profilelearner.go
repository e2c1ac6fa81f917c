package workers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/identity"
)

// ProfileLearner learns about the user from conversations, every Nth
// exchange rather than every message. The learning call runs in a
// goroutine so it never blocks the user.
type ProfileLearner struct {
	cfg      *config.Config
	identity *identity.Builder
	logger   *slog.Logger

	mu    sync.Mutex
	turns int
	wg    sync.WaitGroup
}

// NewProfileLearner wires the learner.
func NewProfileLearner(cfg *config.Config, id *identity.Builder, logger *slog.Logger) *ProfileLearner {
	return &ProfileLearner{cfg: cfg, identity: id, logger: logger}
}

// Tick is called after each exchange. Every ProfileInterval-th call it
// spawns a background learning pass over the exchange.
func (p *ProfileLearner) Tick(userMsg, assistantMsg string) {
	p.mu.Lock()
	p.turns++
	due := p.turns%p.cfg.ProfileInterval == 0
	p.mu.Unlock()
	if !due {
		return
	}

	convo := "User: " + userMsg + "\nAssistant: " + assistantMsg
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		n, err := p.identity.LearnFromConversation(context.Background(), convo)
		if err != nil {
			p.logger.Warn("profile learning failed", "error", err)
			return
		}
		if n > 0 {
			p.logger.Info("profile updated", "facts", n)
		}
	}()
}

// Wait blocks until in-flight learning passes finish. Used on shutdown.
func (p *ProfileLearner) Wait() {
	p.wg.Wait()
}
