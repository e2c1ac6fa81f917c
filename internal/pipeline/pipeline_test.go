package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/identity"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

// scriptedHost replays replies keyed by a substring of the prompt and
// records every VRAM operation.
type scriptedHost struct {
	mu      sync.Mutex
	replies map[string]string // prompt substring -> reply
	ops     []string
}

func (h *scriptedHost) Generate(ctx context.Context, model, prompt string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, "generate:"+model)
	for key, reply := range h.replies {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return "", nil
}

func (h *scriptedHost) Warm(ctx context.Context, model string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, "warm:"+model)
	return nil
}

func (h *scriptedHost) Unload(ctx context.Context, model string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, "unload:"+model)
	return nil
}

func (h *scriptedHost) UnloadAllExcept(ctx context.Context, keep ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, "unload_all_except:"+strings.Join(keep, ","))
	return nil
}

func (h *scriptedHost) countOps(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, op := range h.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func testRunner(t *testing.T, host ModelHost) (*Runner, string) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := config.Default()
	logger := slog.New(slog.DiscardHandler)
	home := t.TempDir()
	id := identity.NewBuilder(cfg, st, nil, home, logger)
	return NewRunner(cfg, host, id, home, logger), home
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Project string `json:"project"`
	}
	tests := []struct {
		name string
		text string
		ok   bool
		want string
	}{
		{"clean object", `{"project": "calc"}`, true, "calc"},
		{"fenced json", "```json\n{\"project\": \"calc\"}\n```", true, "calc"},
		{"preamble prose", `Sure, here's the spec: {"project": "calc"} done`, true, "calc"},
		{"nested braces", `{"project": "calc", "meta": {"x": 1}}`, true, "calc"},
		{"no json", "I don't know what to build.", false, ""},
		{"unbalanced", `{"project": "calc"`, false, ""},
		{"empty", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			if got := ExtractJSON(tt.text, &p); got != tt.ok {
				t.Fatalf("ExtractJSON() = %v, want %v", got, tt.ok)
			}
			if p.Project != tt.want {
				t.Errorf("project = %q, want %q", p.Project, tt.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare code", "print('hi')", "print('hi')"},
		{"fenced with language", "```python\nprint('hi')\n```", "print('hi')"},
		{"fence without close", "```\nprint('hi')", "print('hi')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

// waitResult runs the pipeline synchronously via the callback.
func waitResult(t *testing.T, r *Runner, conversation string) Result {
	t.Helper()
	done := make(chan Result, 1)
	if !r.Run(context.Background(), conversation, nil, func(res Result) { done <- res }) {
		t.Fatal("Run() = false, want launch")
	}
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish")
		return Result{}
	}
}

func TestPipelineFullRun(t *testing.T) {
	host := &scriptedHost{replies: map[string]string{}}
	r, home := testRunner(t, host)

	outputDir := filepath.Join(home, "projects", "calc")
	host.replies["JSON spec:"] = `{"project": "calc", "description": "a calculator", "language": "python",
		"files": ["main.py", "util.py"], "output_dir": "` + outputDir + `"}`
	host.replies["two worker handoffs"] = `{"architecture": "two modules",
		"worker_heavy": {"files": [{"path": "main.py", "description": "core", "depends_on": ["util.py"]}]},
		"worker_light": {"files": [{"path": "util.py", "description": "helpers", "depends_on": []}]},
		"integration_notes": "main imports util"}`
	host.replies["File: main.py"] = "```python\nimport util\nprint(util.add(1, 2))\n```"
	host.replies["File: util.py"] = "def add(a, b):\n    return a + b\n"
	host.replies["reviewer region"] = `{"verdict": "pass", "issues": [], "summary": "clean build"}`

	res := waitResult(t, r, "User: build me a calculator")
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.OutputDir != outputDir {
		t.Errorf("OutputDir = %q, want %q", res.OutputDir, outputDir)
	}
	if !strings.Contains(res.Summary, "Built 2 files") || !strings.Contains(res.Summary, "pass — clean build") {
		t.Errorf("summary = %q", res.Summary)
	}

	// Fences stripped, files on disk.
	data, err := os.ReadFile(filepath.Join(outputDir, "main.py"))
	if err != nil {
		t.Fatalf("main.py missing: %v", err)
	}
	if strings.Contains(string(data), "```") {
		t.Errorf("main.py still fenced: %q", data)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "util.py")); err != nil {
		t.Errorf("util.py missing: %v", err)
	}

	// The router survives every eviction sweep.
	cfg := config.Default()
	routerModel := cfg.Model(config.ModelRouter)
	host.mu.Lock()
	for _, op := range host.ops {
		if strings.HasPrefix(op, "unload_all_except:") && !strings.Contains(op, routerModel) {
			t.Errorf("eviction sweep dropped the router: %s", op)
		}
		if op == "unload:"+routerModel {
			t.Errorf("router explicitly unloaded")
		}
	}
	host.mu.Unlock()

	// Companion restored after the build.
	if host.countOps("warm:"+cfg.Model(config.ModelCompanion)) == 0 {
		t.Error("companion not rewarmed after build")
	}
}

func TestPipelineSingleSlot(t *testing.T) {
	block := make(chan struct{})
	host := &blockingHost{block: block}
	r, _ := testRunner(t, host)

	done := make(chan Result, 1)
	if !r.Run(context.Background(), "convo", nil, func(res Result) { done <- res }) {
		t.Fatal("first Run() = false")
	}
	// Busy slot rejects immediately.
	for i := 0; i < 3; i++ {
		if r.Run(context.Background(), "convo", nil, nil) {
			t.Fatal("second Run() launched while busy")
		}
	}
	if !r.Running() {
		t.Error("Running() = false during build")
	}

	close(block)
	<-done
	// Slot frees after completion.
	deadline := time.After(5 * time.Second)
	for r.Running() {
		select {
		case <-deadline:
			t.Fatal("slot never freed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// blockingHost parks the first Generate until released, then fails the
// spec phase so the pipeline ends quickly.
type blockingHost struct {
	block chan struct{}
}

func (h *blockingHost) Generate(ctx context.Context, model, prompt string) (string, error) {
	<-h.block
	return "", nil
}
func (h *blockingHost) Warm(ctx context.Context, model string) error   { return nil }
func (h *blockingHost) Unload(ctx context.Context, model string) error { return nil }
func (h *blockingHost) UnloadAllExcept(ctx context.Context, keep ...string) error {
	return nil
}

func TestPipelineSpecFailure(t *testing.T) {
	host := &scriptedHost{replies: map[string]string{
		"JSON spec:": "I'm not sure what you want to build.",
	}}
	r, _ := testRunner(t, host)

	res := waitResult(t, r, "convo")
	if res.Success || res.Summary != "Failed to generate build spec." {
		t.Errorf("result = %+v", res)
	}
}

func TestPipelineArchitectFailure(t *testing.T) {
	host := &scriptedHost{replies: map[string]string{
		"JSON spec:":          `{"project": "x", "language": "python", "files": ["a.py"]}`,
		"two worker handoffs": "no json here",
	}}
	r, _ := testRunner(t, host)

	res := waitResult(t, r, "convo")
	if res.Success || res.Summary != "Architect failed to produce a plan." {
		t.Errorf("result = %+v", res)
	}
}

func TestPipelineReviewParseFailureDegradesToPass(t *testing.T) {
	host := &scriptedHost{replies: map[string]string{}}
	r, home := testRunner(t, host)
	outputDir := filepath.Join(home, "projects", "x")
	host.replies["JSON spec:"] = `{"project": "x", "language": "python", "files": ["a.py"], "output_dir": "` + outputDir + `"}`
	host.replies["two worker handoffs"] = `{"worker_heavy": {"files": [{"path": "a.py", "description": "core"}]}, "worker_light": {"files": []}}`
	host.replies["File: a.py"] = "print('a')"
	host.replies["reviewer region"] = "the model rambled instead of emitting json"

	res := waitResult(t, r, "convo")
	if !res.Success {
		t.Fatalf("result = %+v, want success despite review parse failure", res)
	}
	if !strings.Contains(res.Summary, "Could not parse review — assuming OK.") {
		t.Errorf("summary = %q", res.Summary)
	}
}

// TestPipelineWriteSandbox verifies a spec pointing outside home refuses
// to write, and traversal file paths are skipped while good ones land.
func TestPipelineWriteSandbox(t *testing.T) {
	t.Run("output dir outside home refused", func(t *testing.T) {
		host := &scriptedHost{replies: map[string]string{}}
		r, _ := testRunner(t, host)
		outside := t.TempDir()
		host.replies["JSON spec:"] = `{"project": "x", "language": "python", "files": ["a.py"], "output_dir": "` + filepath.Join(outside, "evil") + `"}`
		host.replies["two worker handoffs"] = `{"worker_heavy": {"files": [{"path": "a.py", "description": "core"}]}, "worker_light": {"files": []}}`
		host.replies["File: a.py"] = "print('a')"
		host.replies["reviewer region"] = `{"verdict": "pass", "summary": "ok"}`

		res := waitResult(t, r, "convo")
		if !strings.Contains(res.Summary, "Built 0 files") {
			t.Errorf("summary = %q, want zero files written", res.Summary)
		}
		if _, err := os.Stat(filepath.Join(outside, "evil", "a.py")); !os.IsNotExist(err) {
			t.Error("file written outside home")
		}
	})

	t.Run("traversal file path skipped", func(t *testing.T) {
		host := &scriptedHost{replies: map[string]string{}}
		r, home := testRunner(t, host)
		outputDir := filepath.Join(home, "projects", "x")
		host.replies["JSON spec:"] = `{"project": "x", "language": "python", "files": ["a.py"], "output_dir": "` + outputDir + `"}`
		host.replies["two worker handoffs"] = `{"worker_heavy": {"files": [
			{"path": "a.py", "description": "core"},
			{"path": "../../escape.py", "description": "evil"}
		]}, "worker_light": {"files": []}}`
		host.replies["File: a.py"] = "print('a')"
		host.replies["File: ../../escape.py"] = "print('evil')"
		host.replies["reviewer region"] = `{"verdict": "pass", "summary": "ok"}`

		res := waitResult(t, r, "convo")
		if !strings.Contains(res.Summary, "Built 1 files") {
			t.Errorf("summary = %q, want exactly one file written", res.Summary)
		}
		if _, err := os.Stat(filepath.Join(outputDir, "a.py")); err != nil {
			t.Errorf("a.py missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(home, "escape.py")); !os.IsNotExist(err) {
			t.Error("traversal file written")
		}
	})
}
