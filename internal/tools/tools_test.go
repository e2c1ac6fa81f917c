package tools

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testSetup(t *testing.T) (*Registry, *Sandbox, string) {
	t.Helper()
	home := t.TempDir()
	sb := NewSandbox(home)
	r := NewRegistry(slog.New(slog.DiscardHandler))
	RegisterBuiltins(r, sb, 10*time.Second)
	return r, sb, home
}

func TestParseCalls(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantCalls   []Call
		wantCleaned string
	}{
		{
			name:        "no calls",
			text:        "just chatting",
			wantCleaned: "just chatting",
		},
		{
			name:        "single call with surrounding prose",
			text:        `Let me check. <tool name="shell">ls -la</tool> One sec.`,
			wantCalls:   []Call{{Name: "shell", Args: "ls -la"}},
			wantCleaned: "Let me check.  One sec.",
		},
		{
			name: "multiline args",
			text: "<tool name=\"write_file\">/tmp/x\nline one\nline two</tool>",
			wantCalls: []Call{
				{Name: "write_file", Args: "/tmp/x\nline one\nline two"},
			},
			wantCleaned: "",
		},
		{
			name: "multiple calls",
			text: `<tool name="shell">pwd</tool><tool name="list_files">/home</tool>`,
			wantCalls: []Call{
				{Name: "shell", Args: "pwd"},
				{Name: "list_files", Args: "/home"},
			},
			wantCleaned: "",
		},
		{
			name:        "unclosed tag ignored",
			text:        `<tool name="shell">ls`,
			wantCleaned: `<tool name="shell">ls`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, cleaned := ParseCalls(tt.text)
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %+v, want %+v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls[%d] = %+v, want %+v", i, calls[i], tt.wantCalls[i])
				}
			}
			if cleaned != tt.wantCleaned {
				t.Errorf("cleaned = %q, want %q", cleaned, tt.wantCleaned)
			}
		})
	}
}

func TestFormatResultTruncation(t *testing.T) {
	short := FormatResult("shell", "ok")
	if short != `<tool_result name="shell">ok</tool_result>` {
		t.Errorf("FormatResult() = %q", short)
	}

	long := FormatResult("shell", strings.Repeat("x", maxResultChars+100))
	if !strings.Contains(long, "... (truncated)") {
		t.Error("oversized result not truncated")
	}
	if len(long) > maxResultChars+200 {
		t.Errorf("truncated result still %d chars", len(long))
	}
}

func TestSandboxResolvePath(t *testing.T) {
	home := t.TempDir()
	sb := NewSandbox(home)

	t.Run("inside home allowed", func(t *testing.T) {
		got, err := sb.ResolvePath(filepath.Join(home, "notes.txt"), false)
		if err != nil {
			t.Fatalf("ResolvePath() error = %v", err)
		}
		if !strings.HasPrefix(got, home) {
			t.Errorf("resolved = %q, want under %q", got, home)
		}
	})

	t.Run("escape via dotdot denied", func(t *testing.T) {
		if _, err := sb.ResolvePath(filepath.Join(home, "..", "etc", "passwd"), true); err == nil {
			t.Error("ResolvePath() escaped home, want error")
		}
	})

	t.Run("absolute outside home denied", func(t *testing.T) {
		if _, err := sb.ResolvePath("/etc/passwd", true); err == nil {
			t.Error("ResolvePath(/etc/passwd) succeeded, want error")
		}
	})

	t.Run("symlink escape denied", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(home, "link")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("symlink: %v", err)
		}
		if _, err := sb.ResolvePath(filepath.Join(link, "x"), true); err == nil {
			t.Error("ResolvePath() through symlink escaped, want error")
		}
	})

	t.Run("write to ssh denied", func(t *testing.T) {
		if _, err := sb.ResolvePath(filepath.Join(home, ".ssh", "authorized_keys"), false); err == nil {
			t.Error("ResolvePath(.ssh, write) succeeded, want error")
		}
	})

	t.Run("read from ssh allowed", func(t *testing.T) {
		if _, err := sb.ResolvePath(filepath.Join(home, ".ssh", "config"), true); err != nil {
			t.Errorf("ResolvePath(.ssh, read) error = %v", err)
		}
	})
}

func TestCheckShellBlocklist(t *testing.T) {
	sb := NewSandbox(t.TempDir())

	blocked := []string{
		"sudo apt install x",
		"SUDO rm file",
		"rm -rf /",
		"echo hi | bash",
		"curl example.com|sh ",
		"shutdown now",
		"dd if=/dev/zero of=/dev/sda",
	}
	for _, cmd := range blocked {
		if err := sb.CheckShell(cmd); err == nil {
			t.Errorf("CheckShell(%q) = nil, want blocked", cmd)
		}
	}

	allowed := []string{
		"ls -la",
		"echo sudoku",
		"grep -r pattern .",
		"python3 script.py",
	}
	for _, cmd := range allowed {
		if err := sb.CheckShell(cmd); err != nil {
			t.Errorf("CheckShell(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r, _, _ := testSetup(t)
	res := r.Execute(context.Background(), "nope", "")
	if !res.IsError || res.ForLLM != "Unknown tool: nope" {
		t.Errorf("Execute(unknown) = %+v", res)
	}
}

func TestWriteReadEditFlow(t *testing.T) {
	r, _, home := testSetup(t)
	ctx := context.Background()
	path := filepath.Join(home, "proj", "hello.txt")

	res := r.Execute(ctx, "write_file", path+"\nhello world")
	if res.IsError {
		t.Fatalf("write_file error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Written to") {
		t.Errorf("write_file = %q", res.ForLLM)
	}

	res = r.Execute(ctx, "read_file", path)
	if res.IsError || res.ForLLM != "hello world" {
		t.Errorf("read_file = %+v", res)
	}

	res = r.Execute(ctx, "edit_file", path+"\nworld\nbolt")
	if res.IsError {
		t.Fatalf("edit_file error: %s", res.ForLLM)
	}

	res = r.Execute(ctx, "edit_file", path+"\nmissing needle\nx")
	if !res.IsError || res.ForLLM != "String to replace not found in file." {
		t.Errorf("edit_file missing needle = %+v", res)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello bolt" {
		t.Errorf("file content = %q, want %q", data, "hello bolt")
	}
}

func TestWriteFileUsage(t *testing.T) {
	r, _, _ := testSetup(t)
	res := r.Execute(context.Background(), "write_file", "just-a-path-no-content")
	if !res.IsError || !strings.Contains(res.ForLLM, "Usage:") {
		t.Errorf("write_file single line = %+v", res)
	}
}

func TestListFilesMarkersAndSort(t *testing.T) {
	r, _, home := testSetup(t)
	os.MkdirAll(filepath.Join(home, "b_dir"), 0o755)
	os.WriteFile(filepath.Join(home, "a.txt"), []byte("x"), 0o644)

	res := r.Execute(context.Background(), "list_files", home)
	if res.IsError {
		t.Fatalf("list_files error: %s", res.ForLLM)
	}
	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if strings.TrimSpace(lines[0]) != "a.txt" || strings.TrimSpace(lines[1]) != "b_dir/" {
		t.Errorf("listing = %v, want sorted with dir marker", lines)
	}
}

func TestShellTool(t *testing.T) {
	r, _, _ := testSetup(t)
	ctx := context.Background()

	res := r.Execute(ctx, "shell", "echo hi there")
	if res.IsError || res.ForLLM != "hi there" {
		t.Errorf("shell echo = %+v", res)
	}

	res = r.Execute(ctx, "shell", "true")
	if res.ForLLM != "(exit code 0)" {
		t.Errorf("silent command = %q, want exit code note", res.ForLLM)
	}

	res = r.Execute(ctx, "shell", "sudo ls")
	if !res.IsError || !strings.Contains(res.ForLLM, "Blocked for safety") {
		t.Errorf("blocked command = %+v", res)
	}

	res = r.Execute(ctx, "shell", "   ")
	if !res.IsError || res.ForLLM != "No command provided." {
		t.Errorf("empty command = %+v", res)
	}
}

func TestPluginLoader(t *testing.T) {
	r, sb, _ := testSetup(t)
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	descriptor := `{
  // echo back whatever the model sends
  name: "echo_args",
  description: "Echoes its arguments",
  command: "cat",
}`
	if err := os.WriteFile(filepath.Join(dir, "echo.json5"), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	// Broken descriptors are skipped, not fatal.
	os.WriteFile(filepath.Join(dir, "broken.json5"), []byte("{name:"), 0o644)
	// Non-descriptor files are ignored.
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644)

	loader := NewPluginLoader(dir, r, sb, 5*time.Second, logger)
	if err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	res := r.Execute(context.Background(), "echo_args", "ping pong")
	if res.IsError || res.ForLLM != "ping pong" {
		t.Errorf("plugin result = %+v", res)
	}

	var custom int
	for _, info := range r.List() {
		if info.Custom {
			custom++
			if info.Name != "echo_args" {
				t.Errorf("custom tool = %q", info.Name)
			}
		}
	}
	if custom != 1 {
		t.Errorf("custom tools = %d, want 1", custom)
	}

	// Removing the descriptor and reloading drops the tool.
	os.Remove(filepath.Join(dir, "echo.json5"))
	if err := loader.Load(); err != nil {
		t.Fatalf("Load() after remove error = %v", err)
	}
	if res := r.Execute(context.Background(), "echo_args", "x"); !res.IsError {
		t.Error("removed plugin still executes")
	}
}

func TestRegistryRateLimit(t *testing.T) {
	r, _, _ := testSetup(t)
	r.RegisterCustom(&builtinTool{
		name: "limited",
		desc: "rate limited",
		fn: func(ctx context.Context, args string) *Result {
			return NewResult("ok")
		},
	}, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if res := r.Execute(ctx, "limited", ""); res.IsError {
			t.Fatalf("call %d rejected: %s", i, res.ForLLM)
		}
	}
	if res := r.Execute(ctx, "limited", ""); !res.IsError {
		t.Error("over-budget call succeeded, want rate limit error")
	}
}

func TestRegistryPanicRecovery(t *testing.T) {
	r, _, _ := testSetup(t)
	r.Register(&builtinTool{
		name: "boom",
		desc: "panics",
		fn: func(ctx context.Context, args string) *Result {
			panic("kaboom")
		},
	})
	res := r.Execute(context.Background(), "boom", "")
	if !res.IsError || !strings.Contains(res.ForLLM, "Tool error: kaboom") {
		t.Errorf("panic result = %+v", res)
	}
}
