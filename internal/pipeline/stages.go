package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/bolt/internal/config"
)

// stageSpec distills the conversation into a build spec on the small
// coder model. Everything else is unloaded first; the 3b is evicted
// again right after.
func (r *Runner) stageSpec(ctx context.Context, conversation string, rep Reporter) (*Spec, bool) {
	rep.Phase(1, 5, "Building spec")
	rep.Status("Clearing big models, keeping chat alive...")
	r.unloadAllExceptChat(ctx)

	model := r.cfg.Model(config.ModelFastCode)
	rep.Status("Loading " + model + "...")
	if len(conversation) > 3000 {
		conversation = conversation[:3000]
	}

	rep.Status("Generating spec...")
	raw, err := r.host.Generate(ctx, model, config.SpecPrompt(conversation, r.home))
	r.host.Unload(ctx, model)
	if err != nil {
		rep.Fail("Spec generation failed: " + err.Error())
		return nil, false
	}

	var spec Spec
	if !ExtractJSON(raw, &spec) {
		rep.Fail("Spec generation failed, raw output:\n" + truncate(raw, 500))
		return nil, false
	}
	rep.OK(fmt.Sprintf("Spec ready: %s — %d files planned", spec.Project, len(spec.Files)))
	return &spec, true
}

// stageArchitect plans the project on the beast and splits the work into
// heavy and light handoffs.
func (r *Runner) stageArchitect(ctx context.Context, spec *Spec, rep Reporter) (*Plan, bool) {
	rep.Phase(2, 5, "Architect planning")
	rep.Status("Loading architect (chat still available)...")
	r.unloadAllExceptChat(ctx)

	model := r.cfg.Model(config.ModelBeast)
	specJSON, _ := json.MarshalIndent(spec, "", "  ")
	rep.Status("Planning architecture and splitting work...")
	raw, err := r.host.Generate(ctx, model, config.ArchitectPrompt(string(specJSON), r.identity.ProfileText()))
	r.host.Unload(ctx, model)
	if err != nil {
		rep.Fail("Architect failed: " + err.Error())
		return nil, false
	}

	var plan Plan
	if !ExtractJSON(raw, &plan) {
		rep.Fail("Architect failed, raw output:\n" + truncate(raw, 500))
		return nil, false
	}
	rep.OK(fmt.Sprintf("Architecture planned — %d heavy tasks, %d light tasks",
		len(plan.WorkerHeavy.Files), len(plan.WorkerLight.Files)))
	return &plan, true
}

// stageBuild runs the two workers in parallel, each building its file
// list sequentially. Both worker models are warmed together first and
// evicted together after.
func (r *Runner) stageBuild(ctx context.Context, spec *Spec, plan *Plan, rep Reporter) map[string]string {
	rep.Phase(3, 5, "Building (parallel workers)")
	rep.Status("Loading worker models (chat still available)...")
	r.unloadAllExceptChat(ctx)

	heavy := r.cfg.Model(config.ModelWorkerHeavy)
	light := r.cfg.Model(config.ModelWorkerLight)

	rep.Status("Loading " + heavy + " + " + light + "...")
	var warmWG sync.WaitGroup
	for _, m := range []string{heavy, light} {
		warmWG.Add(1)
		go func() {
			defer warmWG.Done()
			r.host.Warm(ctx, m)
		}()
	}
	warmWG.Wait()
	rep.OK("Both workers loaded")

	userCtx := r.identity.ProfileText()
	rep.Status(fmt.Sprintf("heavy worker: %d files  |  light worker: %d files",
		len(plan.WorkerHeavy.Files), len(plan.WorkerLight.Files)))

	results := make(map[string]string)
	var resultsMu sync.Mutex
	var buildWG sync.WaitGroup
	worker := func(model, label string, tasks []FileTask) {
		defer buildWG.Done()
		for _, task := range tasks {
			code := r.buildFile(ctx, model, spec, task, userCtx)
			resultsMu.Lock()
			results[task.Path] = code
			resultsMu.Unlock()
			rep.OK(fmt.Sprintf("[%s] Built %s", label, task.Path))
		}
	}
	buildWG.Add(2)
	go worker(heavy, "heavy", plan.WorkerHeavy.Files)
	go worker(light, "light", plan.WorkerLight.Files)
	buildWG.Wait()

	r.host.Unload(ctx, heavy)
	r.host.Unload(ctx, light)

	rep.OK(fmt.Sprintf("Build complete — %d files produced", len(results)))
	return results
}

// buildFile generates one complete file and strips any markdown fencing
// the model wrapped it in.
func (r *Runner) buildFile(ctx context.Context, model string, spec *Spec, task FileTask, userCtx string) string {
	deps := strings.Join(task.DependsOn, ", ")
	if deps == "" {
		deps = "none"
	}
	projectCtx := fmt.Sprintf("Project: %s\nDescription: %s\nLanguage: %s",
		spec.Project, spec.Description, spec.Language)

	code, err := r.host.Generate(ctx, model, config.WorkerPrompt(userCtx, projectCtx, task.Path, task.Description, deps))
	if err != nil {
		r.logger.Warn("worker generation failed", "file", task.Path, "error", err)
		return ""
	}
	return StripFences(code)
}

// StripFences removes a wrapping markdown code fence, keeping the body.
func StripFences(code string) string {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "```") {
		return code
	}
	lines := strings.Split(code, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// stageReview has the beast validate the combined output against the
// plan. An unparseable review degrades to a pass rather than sinking the
// whole build.
func (r *Runner) stageReview(ctx context.Context, plan *Plan, built map[string]string, rep Reporter) *Review {
	rep.Phase(4, 5, "Review & validate")
	rep.Status("Loading reviewer (chat still available)...")
	r.unloadAllExceptChat(ctx)

	model := r.cfg.Model(config.ModelBeast)

	var files strings.Builder
	for path, code := range built {
		fmt.Fprintf(&files, "\n--- %s ---\n%s\n", path, truncate(code, 2000))
	}
	planJSON, _ := json.MarshalIndent(plan, "", "  ")

	rep.Status("Reviewing...")
	raw, err := r.host.Generate(ctx, model, config.ReviewPrompt(truncate(string(planJSON), 3000), truncate(files.String(), 6000)))
	r.host.Unload(ctx, model)

	var review Review
	if err != nil || !ExtractJSON(raw, &review) {
		rep.Fail("Review parse failed, raw:\n" + truncate(raw, 500))
		return &Review{Verdict: "pass", Summary: "Could not parse review — assuming OK."}
	}
	if review.Verdict == "" {
		review.Verdict = "pass"
	}

	if review.Verdict == "pass" {
		rep.OK("Review passed: " + review.Summary)
	} else {
		rep.Fail(fmt.Sprintf("Review found %d issue(s)", len(review.Issues)))
		for _, iss := range review.Issues {
			rep.Status("  " + iss.File + ": " + iss.Issue)
		}
	}
	return &review
}

// stageWrite writes all built files to disk. The output directory must
// resolve under home; individual files must stay under the output
// directory, so neither a hostile spec nor a hostile file path escapes.
// The chat models are restored afterwards.
func (r *Runner) stageWrite(ctx context.Context, spec *Spec, built map[string]string, rep Reporter) ([]string, string) {
	rep.Phase(5, 5, "Writing to disk")

	outputDir := spec.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(r.home, "projects", "output")
	}
	outputDir = resolvePath(outputDir)
	if outputDir != r.home && !strings.HasPrefix(outputDir, r.home+string(os.PathSeparator)) {
		rep.Fail("Refusing to write outside home directory: " + outputDir)
		return nil, outputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		rep.Fail("Cannot create output directory: " + err.Error())
		return nil, outputDir
	}

	var written []string
	for relPath, code := range built {
		fullPath := resolvePath(filepath.Join(outputDir, relPath))
		if !strings.HasPrefix(fullPath, outputDir+string(os.PathSeparator)) {
			rep.Fail("Skipping path traversal attempt: " + relPath)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			rep.Fail("Cannot create " + filepath.Dir(fullPath) + ": " + err.Error())
			continue
		}
		if err := os.WriteFile(fullPath, []byte(code), 0o644); err != nil {
			rep.Fail("Cannot write " + fullPath + ": " + err.Error())
			continue
		}
		written = append(written, fullPath)
		rep.OK("Wrote " + fullPath)
	}
	rep.OK(fmt.Sprintf("All %d files written to %s", len(written), outputDir))

	rep.Status("Restoring chat models...")
	r.unloadAllExceptChat(ctx)
	r.host.Warm(ctx, r.cfg.Model(config.ModelCompanion))
	return written, outputDir
}

func (r *Runner) unloadAllExceptChat(ctx context.Context) {
	if err := r.host.UnloadAllExcept(ctx, r.cfg.Model(config.ModelRouter)); err != nil {
		r.logger.Warn("unload failed", "error", err)
	}
}

// resolvePath cleans and resolves symlinks where possible; a path that
// does not exist yet is resolved at its deepest existing ancestor.
func resolvePath(path string) string {
	path = filepath.Clean(path)
	var tail []string
	cur := path
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
