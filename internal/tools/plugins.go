package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// pluginDescriptor is one drop-in tool definition, a .json5 file in the
// custom_tools directory:
//
//	{name: "weather", description: "Current weather", command: "curl -s wttr.in"}
//
// The tool's arguments arrive on the command's stdin; stdout becomes the
// result. A faulty descriptor is logged and skipped, never fatal.
type pluginDescriptor struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	RatePerMin     int    `json:"rate_per_min,omitempty"`
}

// pluginTool runs the descriptor's command as a subprocess.
type pluginTool struct {
	desc    pluginDescriptor
	home    string
	timeout time.Duration
}

func (p *pluginTool) Name() string        { return p.desc.Name }
func (p *pluginTool) Description() string { return p.desc.Description }

func (p *pluginTool) Execute(ctx context.Context, args string) *Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.desc.Command)
	cmd.Dir = p.home
	cmd.Stdin = strings.NewReader(args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorResult(fmt.Sprintf("Tool %s timed out after %ds", p.desc.Name, int(p.timeout.Seconds())))
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return ErrorResult("Tool error: " + msg).WithError(err)
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		out = "(no output)"
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + "\n... (truncated)"
	}
	return NewResult(out)
}

// PluginLoader loads descriptor files from a directory and keeps the
// registry in sync with it.
type PluginLoader struct {
	dir            string
	registry       *Registry
	sandbox        *Sandbox
	defaultTimeout time.Duration
	logger         *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPluginLoader returns a loader over dir. Call Load for the initial
// scan and Watch to keep following changes.
func NewPluginLoader(dir string, registry *Registry, sb *Sandbox, defaultTimeout time.Duration, logger *slog.Logger) *PluginLoader {
	return &PluginLoader{
		dir:            dir,
		registry:       registry,
		sandbox:        sb,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// Load scans the plugin directory and replaces the registry's custom tool
// set. A missing directory means no plugins.
func (l *PluginLoader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.registry.ReplaceCustom(nil, nil)
			return nil
		}
		return fmt.Errorf("read plugin dir: %w", err)
	}

	var plugins []Tool
	rates := make(map[string]int)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json5") || strings.HasPrefix(name, "_") {
			continue
		}
		desc, err := l.parseDescriptor(filepath.Join(l.dir, name))
		if err != nil {
			l.logger.Warn("skipping custom tool", "file", name, "error", err)
			continue
		}
		timeout := l.defaultTimeout
		if desc.TimeoutSeconds > 0 {
			timeout = time.Duration(desc.TimeoutSeconds) * time.Second
		}
		plugins = append(plugins, &pluginTool{desc: *desc, home: l.sandbox.Home(), timeout: timeout})
		rates[desc.Name] = desc.RatePerMin
	}
	l.registry.ReplaceCustom(plugins, rates)
	l.logger.Info("custom tools loaded", "count", len(plugins))
	return nil
}

func (l *PluginLoader) parseDescriptor(path string) (*pluginDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc pluginDescriptor
	if err := json5.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if desc.Name == "" || desc.Command == "" {
		return nil, errors.New("descriptor needs name and command")
	}
	if desc.Description == "" {
		desc.Description = "Custom tool"
	}
	return &desc, nil
}

// Watch follows the plugin directory and reloads on any change. Reload
// failures are logged; the previous tool set stays active.
func (l *PluginLoader) Watch() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch plugin dir: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch plugin dir: %w", err)
	}
	l.watcher = watcher

	go func() {
		// Editors fire bursts of events per save; debounce them.
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					pending = time.After(300 * time.Millisecond)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("plugin watcher error", "error", err)
			case <-pending:
				pending = nil
				if err := l.Load(); err != nil {
					l.logger.Warn("plugin reload failed", "error", err)
				}
			case <-l.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (l *PluginLoader) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
