package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama talks to a local Ollama server over its NDJSON streaming API.
type Ollama struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama returns a client for the server at baseURL.
func NewOllama(baseURL string, logger *slog.Logger) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		// No overall timeout: local generation can legitimately take
		// minutes. Callers cancel through ctx.
		client: &http.Client{},
		logger: logger,
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive any    `json:"keep_alive,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Chat streams a completion. On a non-2xx response it emits a degraded
// notice and retries once, non-streaming, with the context compacted to
// the first system message plus the last user message.
func (o *Ollama) Chat(ctx context.Context, model string, messages []Message) <-chan StreamEvent {
	msgs := NormalizeMessages(messages)
	if len(msgs) == 0 {
		return errorStream("[BOLT: nothing to send]", fmt.Errorf("empty message list after normalization"))
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer func() { ch <- StreamEvent{Kind: EventDone} }()

		resp, err := o.post(ctx, "/api/chat", ollamaChatRequest{Model: model, Messages: msgs, Stream: true})
		if err != nil {
			ch <- StreamEvent{Kind: EventError, Text: "[BOLT: can't reach the local model server]", Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			o.logger.Warn("ollama chat failed",
				"model", model, "status", resp.StatusCode, "body", string(body))
			ch <- StreamEvent{
				Kind: EventError,
				Text: fmt.Sprintf("[BOLT: Model error (HTTP %d). Retrying with smaller context...]", resp.StatusCode),
				Err:  fmt.Errorf("ollama chat: HTTP %d", resp.StatusCode),
			}
			if text, err := o.retryCompact(ctx, model, msgs); err == nil && text != "" {
				ch <- StreamEvent{Kind: EventText, Text: text}
			}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				ch <- StreamEvent{Kind: EventText, Text: chunk.Message.Content}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- StreamEvent{Kind: EventError, Text: "[BOLT: stream interrupted]", Err: err}
		}
	}()
	return ch
}

// retryCompact repeats the request non-streaming with a minimal context:
// the first system message and the last user message. This recovers from
// context-length failures on small models.
func (o *Ollama) retryCompact(ctx context.Context, model string, msgs []Message) (string, error) {
	var compact []Message
	for _, m := range msgs {
		if m.Role == "system" {
			compact = append(compact, m)
			break
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			compact = append(compact, msgs[i])
			break
		}
	}
	if len(compact) == 0 {
		return "", fmt.Errorf("no compactable messages")
	}

	resp, err := o.post(ctx, "/api/chat", ollamaChatRequest{Model: model, Messages: compact, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama retry: HTTP %d", resp.StatusCode)
	}
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode retry response: %w", err)
	}
	return out.Message.Content, nil
}

// Generate returns a complete non-streaming response for a bare prompt.
func (o *Ollama) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := o.post(ctx, "/api/generate", ollamaGenerateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama generate: HTTP %d", resp.StatusCode)
	}
	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

// Warm loads a model into VRAM and pins it for ten minutes. The tiny
// prompt forces a real load rather than a metadata-only touch.
func (o *Ollama) Warm(ctx context.Context, model string) error {
	resp, err := o.post(ctx, "/api/generate", ollamaGenerateRequest{Model: model, Prompt: "hi", Stream: false, KeepAlive: "10m"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("warm %s: HTTP %d", model, resp.StatusCode)
	}
	return nil
}

// Touch refreshes a loaded model's keep-alive without generating.
// Heartbeats use this so resident models never idle out.
func (o *Ollama) Touch(ctx context.Context, model string) error {
	resp, err := o.post(ctx, "/api/generate", ollamaGenerateRequest{Model: model, Prompt: "", Stream: false, KeepAlive: "10m"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("touch %s: HTTP %d", model, resp.StatusCode)
	}
	return nil
}

// Unload evicts a model from VRAM immediately.
func (o *Ollama) Unload(ctx context.Context, model string) error {
	resp, err := o.post(ctx, "/api/generate", ollamaGenerateRequest{Model: model, Prompt: "", Stream: false, KeepAlive: 0})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unload %s: HTTP %d", model, resp.StatusCode)
	}
	return nil
}

// LoadedModels lists model names currently resident in VRAM.
func (o *Ollama) LoadedModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list loaded models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list loaded models: HTTP %d", resp.StatusCode)
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode loaded models: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// UnloadAllExcept evicts every loaded model not in keep. Used before the
// build pipeline claims VRAM and when returning to companion mode.
func (o *Ollama) UnloadAllExcept(ctx context.Context, keep ...string) error {
	loaded, err := o.LoadedModels(ctx)
	if err != nil {
		return err
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	for _, name := range loaded {
		if kept[name] {
			continue
		}
		if err := o.Unload(ctx, name); err != nil {
			o.logger.Warn("unload failed", "model", name, "error", err)
		}
	}
	return nil
}

// Ping checks the server is reachable.
func (o *Ollama) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}
