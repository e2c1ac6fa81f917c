package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxShellOutput = 8000
	maxFileRead    = 10000
	maxDirEntries  = 200
)

// builtinTool adapts a function to the Tool interface.
type builtinTool struct {
	name string
	desc string
	fn   func(ctx context.Context, args string) *Result
}

func (t *builtinTool) Name() string        { return t.name }
func (t *builtinTool) Description() string { return t.desc }
func (t *builtinTool) Execute(ctx context.Context, args string) *Result {
	return t.fn(ctx, args)
}

// RegisterBuiltins installs the six built-in tools. timeout bounds
// shell and python_exec runs.
func RegisterBuiltins(r *Registry, sb *Sandbox, timeout time.Duration) {
	builtins := []*builtinTool{
		{"shell", "Run a shell command",
			func(ctx context.Context, args string) *Result { return toolShell(ctx, sb, args, timeout) }},
		{"read_file", "Read a file's contents",
			func(ctx context.Context, args string) *Result { return toolReadFile(sb, args) }},
		{"write_file", "Write content to a file (line1=path, rest=content)",
			func(ctx context.Context, args string) *Result { return toolWriteFile(sb, args) }},
		{"edit_file", "Edit a file (line1=path, line2=old, line3=new)",
			func(ctx context.Context, args string) *Result { return toolEditFile(sb, args) }},
		{"list_files", "List directory contents",
			func(ctx context.Context, args string) *Result { return toolListFiles(sb, args) }},
		{"python_exec", "Execute Python code",
			func(ctx context.Context, args string) *Result { return toolPythonExec(ctx, sb, args, timeout) }},
	}
	for _, t := range builtins {
		r.Register(t)
	}
}

// runCommand executes argv in the sandbox home and shapes the output:
// stdout then stderr, "(exit code N)" when both are empty, capped.
func runCommand(ctx context.Context, sb *Sandbox, timeout time.Duration, timeoutMsg string, argv ...string) *Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = sb.Home()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorResult(timeoutMsg)
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}
	if strings.TrimSpace(output) == "" {
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			return ErrorResult("Tool error: " + err.Error()).WithError(err)
		}
		output = fmt.Sprintf("(exit code %d)", code)
	}
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n... (truncated)"
	}
	return NewResult(strings.TrimSpace(output))
}

func toolShell(ctx context.Context, sb *Sandbox, args string, timeout time.Duration) *Result {
	command := strings.TrimSpace(args)
	if command == "" {
		return ErrorResult("No command provided.")
	}
	if err := sb.CheckShell(command); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	msg := fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds()))
	return runCommand(ctx, sb, timeout, msg, "sh", "-c", command)
}

func toolPythonExec(ctx context.Context, sb *Sandbox, args string, timeout time.Duration) *Result {
	code := strings.TrimSpace(args)
	if code == "" {
		return ErrorResult("No code provided.")
	}
	msg := fmt.Sprintf("Execution timed out after %ds", int(timeout.Seconds()))
	return runCommand(ctx, sb, timeout, msg, "python3", "-c", code)
}

func toolReadFile(sb *Sandbox, args string) *Result {
	path, err := sb.ResolvePath(strings.TrimSpace(args), true)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ErrorResult("File not found: " + path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult("Error reading file: " + err.Error()).WithError(err)
	}
	content := string(data)
	if len(content) > maxFileRead {
		content = content[:maxFileRead] + "\n... (truncated)"
	}
	return NewResult(content)
}

func toolWriteFile(sb *Sandbox, args string) *Result {
	parts := strings.SplitN(strings.TrimSpace(args), "\n", 2)
	if len(parts) < 2 {
		return ErrorResult("Usage: first line is file path, remaining lines are content.")
	}
	path, err := sb.ResolvePath(strings.TrimSpace(parts[0]), false)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	content := parts[1]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResult("Error writing file: " + err.Error()).WithError(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult("Error writing file: " + err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("Written to %s (%d bytes)", path, len(content)))
}

func toolEditFile(sb *Sandbox, args string) *Result {
	parts := strings.SplitN(strings.TrimSpace(args), "\n", 3)
	if len(parts) < 3 {
		return ErrorResult("Usage: line1=file path, line2=string to find, line3=replacement string")
	}
	path, err := sb.ResolvePath(strings.TrimSpace(parts[0]), false)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	old, repl := parts[1], parts[2]

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult("File not found: " + path)
	}
	content := string(data)
	if !strings.Contains(content, old) {
		return ErrorResult("String to replace not found in file.")
	}
	content = strings.Replace(content, old, repl, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult("Error editing file: " + err.Error()).WithError(err)
	}
	return NewResult("Edited " + path)
}

func toolListFiles(sb *Sandbox, args string) *Result {
	raw := strings.TrimSpace(args)
	if raw == "" {
		raw = sb.Home()
	}
	path, err := sb.ResolvePath(raw, true)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult("Not a directory: " + path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		marker := ""
		if e.IsDir() {
			marker = "/"
		}
		names = append(names, "  "+e.Name()+marker)
	}
	sort.Strings(names)
	shown := names
	if len(shown) > maxDirEntries {
		shown = shown[:maxDirEntries]
	}
	out := strings.Join(shown, "\n")
	if len(names) > maxDirEntries {
		out += fmt.Sprintf("\n  ... and %d more", len(names)-maxDirEntries)
	}
	if out == "" {
		return NewResult("(empty directory)")
	}
	return NewResult(out)
}
