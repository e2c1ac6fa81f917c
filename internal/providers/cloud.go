package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	anthropicVersion = "2023-06-01"
	cloudMaxTokens   = 8192
	availabilityTTL  = 60 * time.Second
)

// providerInfo describes one known cloud provider, matched by key prefix.
type providerInfo struct {
	Name   string
	URL    string
	Model  string
	Format string // "anthropic" or "openai"
}

// prefixOrder checks longer prefixes first so "sk-ant-" matches before the
// shorter "sk-" catch-all.
var prefixOrder = []string{"sk-ant-", "sk-or-", "gsk_", "sk-"}

var knownProviders = map[string]providerInfo{
	"sk-ant-": {
		Name:   "Anthropic",
		URL:    "https://api.anthropic.com/v1/messages",
		Model:  "claude-sonnet-4-6",
		Format: "anthropic",
	},
	"sk-or-": {
		Name:   "OpenRouter",
		URL:    "https://openrouter.ai/api/v1/chat/completions",
		Model:  "anthropic/claude-sonnet-4-6",
		Format: "openai",
	},
	"gsk_": {
		Name:   "Groq",
		URL:    "https://api.groq.com/openai/v1/chat/completions",
		Model:  "llama-3.3-70b-versatile",
		Format: "openai",
	},
	"sk-": {
		Name:   "OpenAI",
		URL:    "https://api.openai.com/v1/chat/completions",
		Model:  "gpt-4o",
		Format: "openai",
	},
}

// CloudSettings are the resolved inputs for provider detection.
type CloudSettings struct {
	APIKey string
	Model  string
	URL    string
}

// DetectProvider resolves the provider from the key prefix and applies
// model/URL overrides. Returns nil when no key is set, or when the key
// prefix is unknown and no explicit URL was given.
func DetectProvider(s CloudSettings) *providerInfo {
	if s.APIKey == "" {
		return nil
	}

	var p providerInfo
	found := false
	for _, prefix := range prefixOrder {
		if strings.HasPrefix(s.APIKey, prefix) {
			p = knownProviders[prefix]
			found = true
			break
		}
	}
	if !found {
		if s.URL == "" {
			return nil
		}
		p = providerInfo{Name: "Custom", URL: s.URL, Model: "unknown", Format: "openai"}
	}

	if s.URL != "" {
		p.URL = s.URL
	}
	if s.Model != "" {
		p.Model = s.Model
	}
	// A URL pointing at an Anthropic-shaped endpoint overrides the
	// format, whatever the key prefix said.
	if strings.Contains(p.URL, "anthropic") {
		p.Format = "anthropic"
	}
	return &p
}

// Cloud streams from a remote provider when one is configured. Availability
// is probed lazily and cached; connection loss invalidates the cache so the
// next turn rechecks instead of waiting out the TTL.
type Cloud struct {
	provider *providerInfo
	apiKey   string
	client   *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	available *bool
	checkedAt time.Time
}

// NewCloud builds a cloud client from settings. Configured() reports
// whether a provider was resolved.
func NewCloud(s CloudSettings, logger *slog.Logger) *Cloud {
	return &Cloud{
		provider: DetectProvider(s),
		apiKey:   s.APIKey,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}
}

// Configured reports whether a provider was resolved from the settings.
func (c *Cloud) Configured() bool {
	return c.provider != nil
}

// DisplayName returns "model @ Provider" for the banner, or "".
func (c *Cloud) DisplayName() string {
	if c.provider == nil {
		return ""
	}
	return c.provider.Model + " @ " + c.provider.Name
}

// Available reports whether the cloud endpoint is reachable. The result is
// cached for a minute; a mid-stream connection loss clears the cache.
func (c *Cloud) Available(ctx context.Context) bool {
	if c.provider == nil {
		return false
	}

	c.mu.Lock()
	if c.available != nil && time.Since(c.checkedAt) < availabilityTTL {
		ok := *c.available
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	ok := c.ping(ctx)
	c.mu.Lock()
	c.available = &ok
	c.checkedAt = time.Now()
	c.mu.Unlock()
	return ok
}

// ping checks reachability. Any HTTP status counts as reachable — an auth
// rejection still proves the network path works.
func (c *Cloud) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.provider.URL, nil)
	if err != nil {
		return false
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case 200, 401, 403, 404, 405:
		return true
	}
	return false
}

// invalidateAvailability forces a fresh probe on the next Available call.
func (c *Cloud) invalidateAvailability() {
	c.mu.Lock()
	c.available = nil
	c.mu.Unlock()
}

func (c *Cloud) setAuth(req *http.Request) {
	if c.provider.Format == "anthropic" {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Chat streams a completion from the configured provider.
func (c *Cloud) Chat(ctx context.Context, model string, messages []Message) <-chan StreamEvent {
	if c.provider == nil {
		return errorStream("[BOLT: Cloud brain unavailable — no API key set.]", errors.New("cloud not configured"))
	}
	if c.provider.Format == "anthropic" {
		return c.chatAnthropic(ctx, messages)
	}
	return c.chatOpenAI(ctx, messages)
}

// Generate runs a bare prompt as a single user message and collects the
// full response.
func (c *Cloud) Generate(ctx context.Context, model, prompt string) (string, error) {
	var sb strings.Builder
	for ev := range c.Chat(ctx, model, []Message{{Role: "user", Content: prompt}}) {
		switch ev.Kind {
		case EventText:
			sb.WriteString(ev.Text)
		case EventError:
			return "", ev.Err
		}
	}
	return sb.String(), nil
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
}

// chatAnthropic streams via Anthropic's native messages API. System
// messages are hoisted into the top-level system field; the first chat
// message must be from the user.
func (c *Cloud) chatAnthropic(ctx context.Context, messages []Message) <-chan StreamEvent {
	var systemParts []string
	var chat []Message
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		role := m.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		if n := len(chat); n > 0 && chat[n-1].Role == role {
			chat[n-1].Content += "\n" + m.Content
			continue
		}
		chat = append(chat, Message{Role: role, Content: m.Content})
	}
	if len(chat) == 0 {
		return errorStream("[BOLT: No messages to send.]", errors.New("empty message list"))
	}
	if chat[0].Role != "user" {
		chat = append([]Message{{Role: "user", Content: "(continuing conversation)"}}, chat...)
	}

	req := anthropicRequest{
		Model:     c.provider.Model,
		MaxTokens: cloudMaxTokens,
		Stream:    true,
		Messages:  chat,
		System:    strings.Join(systemParts, "\n\n"),
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer func() { ch <- StreamEvent{Kind: EventDone} }()

		resp, err := c.postStream(ctx, req)
		if err != nil {
			ch <- c.connectError(err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			ch <- StreamEvent{Kind: EventError, Text: c.apiError(resp), Err: fmt.Errorf("cloud: HTTP %d", resp.StatusCode)}
			return
		}
		c.scanAnthropicSSE(resp.Body, ch)
	}()
	return ch
}

// scanAnthropicSSE reads the event stream, forwarding text deltas.
func (c *Cloud) scanAnthropicSSE(body io.Reader, ch chan<- StreamEvent) {
	partial := false
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := sseData(scanner.Text())
		if !ok || data == "[DONE]" {
			if data == "[DONE]" {
				return
			}
			continue
		}
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				partial = true
				ch <- StreamEvent{Kind: EventText, Text: ev.Delta.Text}
			}
		case "message_stop":
			return
		case "error":
			msg := ev.Error.Message
			if msg == "" {
				msg = "unknown error"
			}
			ch <- c.streamError(partial, errors.New(msg))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.invalidateAvailability()
		ch <- c.streamError(partial, err)
	}
}

type openAIRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	Messages  []Message `json:"messages"`
}

// chatOpenAI streams via the OpenAI-compatible chat completions API.
func (c *Cloud) chatOpenAI(ctx context.Context, messages []Message) <-chan StreamEvent {
	clean := NormalizeMessages(messages)
	if len(clean) == 0 {
		return errorStream("[BOLT: No messages to send.]", errors.New("empty message list"))
	}

	req := openAIRequest{
		Model:     c.provider.Model,
		MaxTokens: cloudMaxTokens,
		Stream:    true,
		Messages:  clean,
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer func() { ch <- StreamEvent{Kind: EventDone} }()

		resp, err := c.postStream(ctx, req)
		if err != nil {
			ch <- c.connectError(err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			ch <- StreamEvent{Kind: EventError, Text: c.apiError(resp), Err: fmt.Errorf("cloud: HTTP %d", resp.StatusCode)}
			return
		}

		partial := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := sseData(scanner.Text())
			if !ok {
				continue
			}
			if data == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				partial = true
				ch <- StreamEvent{Kind: EventText, Text: text}
			}
			if chunk.Choices[0].FinishReason != "" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.invalidateAvailability()
			ch <- c.streamError(partial, err)
		}
	}()
	return ch
}

func (c *Cloud) postStream(ctx context.Context, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode cloud request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setAuth(req)
	return c.client.Do(req)
}

// connectError maps a transport failure to a user-visible fallback notice.
// Network-level failures clear the availability cache.
func (c *Cloud) connectError(err error) StreamEvent {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StreamEvent{Kind: EventError, Text: "[BOLT: Cloud brain timed out — we're local now.]", Err: err}
	}
	c.invalidateAvailability()
	return StreamEvent{Kind: EventError, Text: "[BOLT: Can't reach cloud brain — we're local now.]", Err: err}
}

// streamError is a mid-stream failure. If text already streamed, the notice
// is appended rather than replacing what the user saw.
func (c *Cloud) streamError(partial bool, err error) StreamEvent {
	if partial {
		return StreamEvent{Kind: EventError, Text: "\n[connection lost, switching to local]", Err: err}
	}
	return StreamEvent{Kind: EventError, Text: "[BOLT: Cloud connection dropped — we're local now.]", Err: err}
}

// apiError extracts a readable message from a non-200 response.
func (c *Cloud) apiError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	} else if len(body) > 0 {
		trimmed := strings.TrimSpace(string(body))
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		if trimmed != "" {
			msg = trimmed
		}
	}
	return "[BOLT: Cloud error — " + msg + "]"
}

// sseData strips the "data: " framing from an SSE line.
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data: ") {
		return "", false
	}
	return strings.TrimSpace(line[6:]), true
}
