package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/bolt/internal/config"
)

// HeartbeatInterval is slightly under Ollama's default 5m keep_alive so
// resident models never idle out mid-session.
const HeartbeatInterval = 270 * time.Second

// Toucher refreshes a model's keep-alive. Satisfied by providers.Ollama.
type Toucher interface {
	Touch(ctx context.Context, model string) error
}

// Heartbeat keeps the core models warm while BOLT runs.
type Heartbeat struct {
	cfg      *config.Config
	toucher  Toucher
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopped  chan struct{}
}

// NewHeartbeat builds the worker.
func NewHeartbeat(cfg *config.Config, toucher Toucher, interval time.Duration, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		cfg: cfg, toucher: toucher, interval: interval, logger: logger,
		stop: make(chan struct{}), stopped: make(chan struct{}),
	}
}

// Start pulses immediately, then on the interval.
func (h *Heartbeat) Start() {
	go func() {
		defer close(h.stopped)
		h.pulse()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.pulse()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	close(h.stop)
	<-h.stopped
}

func (h *Heartbeat) pulse() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, key := range h.cfg.CompanionModels() {
		model := h.cfg.Model(key)
		if model == "" {
			continue
		}
		if err := h.toucher.Touch(ctx, model); err != nil {
			h.logger.Debug("heartbeat pulse failed", "model", model, "error", err)
		}
	}
}
