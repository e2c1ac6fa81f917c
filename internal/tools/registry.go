// Package tools implements BOLT's hands: the tool registry, the inline
// call markup parser, the filesystem/shell sandbox, the built-in tools,
// and the drop-in plugin loader.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Tool is one executable capability. Execute must honor ctx cancellation;
// the registry applies the timeout.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args string) *Result
}

// Info is a tool's listing entry.
type Info struct {
	Name        string
	Description string
	Custom      bool
}

// Registry holds every available tool. Built-ins are registered once at
// startup; plugins may be swapped at runtime by the loader.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	custom   map[string]bool
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		custom:   make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register adds or replaces a built-in tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterCustom adds or replaces a plugin tool, optionally rate-limited
// to ratePerMin calls per minute (0 means unlimited).
func (r *Registry) RegisterCustom(t Tool, ratePerMin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.custom[t.Name()] = true
	if ratePerMin > 0 {
		r.limiters[t.Name()] = rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin)
	} else {
		delete(r.limiters, t.Name())
	}
}

// ReplaceCustom swaps the full plugin set in one step, dropping custom
// tools that disappeared from the plugin directory.
func (r *Registry) ReplaceCustom(plugins []Tool, rates map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.custom {
		delete(r.tools, name)
		delete(r.limiters, name)
		delete(r.custom, name)
	}
	for _, t := range plugins {
		r.tools[t.Name()] = t
		r.custom[t.Name()] = true
		if rpm := rates[t.Name()]; rpm > 0 {
			r.limiters[t.Name()] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.tools))
	for name, t := range r.tools {
		infos = append(infos, Info{Name: name, Description: t.Description(), Custom: r.custom[name]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute runs a named tool. Unknown tools and panics become error results
// rather than failures of the turn. Rate-limited tools reject immediately
// when over budget instead of queuing.
func (r *Registry) Execute(ctx context.Context, name, args string) (res *Result) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("Unknown tool: " + name)
	}

	r.mu.RLock()
	limiter := r.limiters[name]
	r.mu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		return ErrorResult(fmt.Sprintf("Tool %s is rate limited, try again shortly.", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panic", "tool", name, "panic", rec)
			res = ErrorResult(fmt.Sprintf("Tool error: %v", rec))
		}
	}()

	res = t.Execute(ctx, args)
	if res == nil {
		res = ErrorResult("Tool error: no result")
	}
	return res
}
