package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/identity"
)

// Result is what a finished pipeline hands to its callback.
type Result struct {
	Success   bool
	OutputDir string
	Summary   string
}

// Runner owns the single build slot. Only one pipeline runs at a time;
// Run while busy is rejected immediately.
type Runner struct {
	cfg      *config.Config
	host     ModelHost
	identity *identity.Builder
	home     string
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
}

// NewRunner wires the pipeline. home bounds where phase 5 may write; it
// is canonicalized so prefix checks survive symlinked home directories.
func NewRunner(cfg *config.Config, host ModelHost, id *identity.Builder, home string, logger *slog.Logger) *Runner {
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}
	return &Runner{cfg: cfg, host: host, identity: id, home: home, logger: logger}
}

// Running reports whether a build is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Run launches the pipeline in the background. Returns false when a build
// is already active. callback fires once with the outcome; reporter
// receives progress as phases advance.
func (r *Runner) Run(ctx context.Context, conversation string, reporter Reporter, callback func(Result)) bool {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return false
	}
	r.active = true
	r.mu.Unlock()

	if reporter == nil {
		reporter = NopReporter{}
	}

	// The chat model must be resident before the build claims VRAM.
	if err := r.host.Warm(ctx, r.cfg.Model(config.ModelRouter)); err != nil {
		r.logger.Warn("router warm failed", "error", err)
	}

	go func() {
		defer func() {
			r.mu.Lock()
			r.active = false
			r.mu.Unlock()
		}()
		res := r.run(ctx, conversation, reporter)
		if callback != nil {
			callback(res)
		}
	}()
	return true
}

func (r *Runner) run(ctx context.Context, conversation string, rep Reporter) Result {
	start := time.Now()

	spec, ok := r.stageSpec(ctx, conversation, rep)
	if !ok {
		return Result{Summary: "Failed to generate build spec."}
	}

	plan, ok := r.stageArchitect(ctx, spec, rep)
	if !ok {
		return Result{Summary: "Architect failed to produce a plan."}
	}

	built := r.stageBuild(ctx, spec, plan, rep)
	if len(built) == 0 {
		return Result{Summary: "Workers produced no files."}
	}

	review := r.stageReview(ctx, plan, built, rep)
	written, outputDir := r.stageWrite(ctx, spec, built, rep)

	elapsed := time.Since(start)
	summary := fmt.Sprintf("Built %d files in %.0fs\nOutput: %s\nReview: %s — %s",
		len(written), elapsed.Seconds(), outputDir, review.Verdict, review.Summary)
	return Result{Success: true, OutputDir: outputDir, Summary: summary}
}
