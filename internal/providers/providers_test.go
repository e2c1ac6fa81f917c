package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name       string
		settings   CloudSettings
		wantNil    bool
		wantName   string
		wantModel  string
		wantFormat string
	}{
		{
			name:     "no key",
			settings: CloudSettings{},
			wantNil:  true,
		},
		{
			name:       "anthropic key",
			settings:   CloudSettings{APIKey: "sk-ant-abc123"},
			wantName:   "Anthropic",
			wantModel:  "claude-sonnet-4-6",
			wantFormat: "anthropic",
		},
		{
			name:       "openrouter key beats sk- catch-all",
			settings:   CloudSettings{APIKey: "sk-or-v1-abc"},
			wantName:   "OpenRouter",
			wantModel:  "anthropic/claude-sonnet-4-6",
			wantFormat: "openai",
		},
		{
			name:       "groq key",
			settings:   CloudSettings{APIKey: "gsk_abc"},
			wantName:   "Groq",
			wantModel:  "llama-3.3-70b-versatile",
			wantFormat: "openai",
		},
		{
			name:       "plain sk- is openai",
			settings:   CloudSettings{APIKey: "sk-abc"},
			wantName:   "OpenAI",
			wantModel:  "gpt-4o",
			wantFormat: "openai",
		},
		{
			name:     "unknown prefix without url",
			settings: CloudSettings{APIKey: "xyz-123"},
			wantNil:  true,
		},
		{
			name:       "unknown prefix with url",
			settings:   CloudSettings{APIKey: "xyz-123", URL: "https://llm.example.com/v1/chat/completions", Model: "local-70b"},
			wantName:   "Custom",
			wantModel:  "local-70b",
			wantFormat: "openai",
		},
		{
			name:       "model override",
			settings:   CloudSettings{APIKey: "sk-abc", Model: "gpt-4o-mini"},
			wantName:   "OpenAI",
			wantModel:  "gpt-4o-mini",
			wantFormat: "openai",
		},
		{
			name:       "anthropic-shaped url upgrades format",
			settings:   CloudSettings{APIKey: "sk-abc", URL: "https://proxy.corp/anthropic/v1/messages"},
			wantName:   "OpenAI",
			wantModel:  "gpt-4o",
			wantFormat: "anthropic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectProvider(tt.settings)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("DetectProvider() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("DetectProvider() = nil, want provider")
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", got.Model, tt.wantModel)
			}
			if got.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", got.Format, tt.wantFormat)
			}
		})
	}
}

func TestNormalizeMessages(t *testing.T) {
	tests := []struct {
		name string
		in   []Message
		want []Message
	}{
		{
			name: "empty dropped",
			in:   []Message{{Role: "user", Content: ""}, {Role: "user", Content: "hi"}},
			want: []Message{{Role: "user", Content: "hi"}},
		},
		{
			name: "unknown role becomes user",
			in:   []Message{{Role: "tool_result", Content: "result"}},
			want: []Message{{Role: "user", Content: "result"}},
		},
		{
			name: "consecutive same role merged",
			in: []Message{
				{Role: "user", Content: "one"},
				{Role: "user", Content: "two"},
				{Role: "assistant", Content: "three"},
			},
			want: []Message{
				{Role: "user", Content: "one\ntwo"},
				{Role: "assistant", Content: "three"},
			},
		},
		{
			name: "system messages never merged",
			in: []Message{
				{Role: "system", Content: "a"},
				{Role: "system", Content: "b"},
			},
			want: []Message{
				{Role: "system", Content: "a"},
				{Role: "system", Content: "b"},
			},
		},
		{
			name: "remapped role merges into previous user",
			in: []Message{
				{Role: "user", Content: "hi"},
				{Role: "tool", Content: "Called shell"},
			},
			want: []Message{{Role: "user", Content: "hi\nCalled shell"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMessages(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%+v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// collect drains a stream into accumulated text plus any error events.
func collect(t *testing.T, ch <-chan StreamEvent) (string, []string) {
	t.Helper()
	var text strings.Builder
	var errs []string
	done := false
	for ev := range ch {
		switch ev.Kind {
		case EventText:
			text.WriteString(ev.Text)
		case EventError:
			errs = append(errs, ev.Text)
		case EventDone:
			done = true
		}
	}
	if !done {
		t.Error("stream closed without done event")
	}
	return text.String(), errs
}

func TestOllamaChatStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		fmt.Fprintln(w, `{"message":{"content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, discardLogger())
	text, errs := collect(t, o.Chat(context.Background(), "qwen2.5:7b", []Message{{Role: "user", Content: "hi"}}))
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestOllamaChatEmptyMessages(t *testing.T) {
	o := NewOllama("http://localhost:0", discardLogger())
	text, errs := collect(t, o.Chat(context.Background(), "m", nil))
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}
}

// TestOllamaChatRetryOnHTTPError verifies the degraded retry path: a 500 on
// the streaming call emits a notice and repeats with a compacted context.
func TestOllamaChatRetryOnHTTPError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "out of memory", http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"short answer"},"done":true}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, discardLogger())
	msgs := []Message{
		{Role: "system", Content: "identity"},
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
		{Role: "user", Content: "new question"},
	}
	text, errs := collect(t, o.Chat(context.Background(), "m", msgs))

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "HTTP 500") {
		t.Errorf("errors = %v, want one mentioning HTTP 500", errs)
	}
	if text != "short answer" {
		t.Errorf("text = %q, want retry answer", text)
	}
}

func TestOllamaLoadedModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ps" {
			t.Errorf("path = %q, want /api/ps", r.URL.Path)
		}
		fmt.Fprintln(w, `{"models":[{"name":"qwen2.5:1.5b"},{"name":"qwen2.5:7b"}]}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, discardLogger())
	names, err := o.LoadedModels(context.Background())
	if err != nil {
		t.Fatalf("LoadedModels() error = %v", err)
	}
	if len(names) != 2 || names[0] != "qwen2.5:1.5b" {
		t.Errorf("names = %v", names)
	}
}

func TestCloudChatAnthropicStream(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprintln(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `data: {"type":"message_stop"}`)
	}))
	defer srv.Close()

	// "anthropic" in the URL path keeps the native format with a test URL.
	c := NewCloud(CloudSettings{APIKey: "sk-ant-test", URL: srv.URL + "/anthropic"}, discardLogger())
	msgs := []Message{
		{Role: "system", Content: "be bolt"},
		{Role: "assistant", Content: "earlier reply"},
		{Role: "user", Content: "hello"},
	}
	text, errs := collect(t, c.Chat(context.Background(), "cloud", msgs))
	if text != "Hi there" {
		t.Errorf("text = %q, want %q", text, "Hi there")
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
	// System hoisted out of messages; leading assistant gets a user shim.
	if !strings.Contains(gotBody, `"system":"be bolt"`) {
		t.Errorf("body missing hoisted system field: %s", gotBody)
	}
	if !strings.Contains(gotBody, "(continuing conversation)") {
		t.Errorf("body missing leading user shim: %s", gotBody)
	}
}

func TestCloudChatOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Hey"}}]}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"!"},"finish_reason":null}]}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c := NewCloud(CloudSettings{APIKey: "gsk_test", URL: srv.URL}, discardLogger())
	text, errs := collect(t, c.Chat(context.Background(), "cloud", []Message{{Role: "user", Content: "hi"}}))
	if text != "Hey!" {
		t.Errorf("text = %q, want %q", text, "Hey!")
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestCloudChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := NewCloud(CloudSettings{APIKey: "sk-test", URL: srv.URL}, discardLogger())
	text, errs := collect(t, c.Chat(context.Background(), "cloud", []Message{{Role: "user", Content: "hi"}}))
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "rate limited") {
		t.Errorf("errors = %v, want one mentioning rate limited", errs)
	}
}

func TestCloudUnconfigured(t *testing.T) {
	c := NewCloud(CloudSettings{}, discardLogger())
	if c.Configured() {
		t.Error("Configured() = true, want false")
	}
	if c.DisplayName() != "" {
		t.Errorf("DisplayName() = %q, want empty", c.DisplayName())
	}
	if c.Available(context.Background()) {
		t.Error("Available() = true, want false")
	}
	_, errs := collect(t, c.Chat(context.Background(), "cloud", []Message{{Role: "user", Content: "hi"}}))
	if len(errs) != 1 {
		t.Errorf("errors = %v, want one", errs)
	}
}

func TestCloudDisplayName(t *testing.T) {
	c := NewCloud(CloudSettings{APIKey: "sk-ant-x"}, discardLogger())
	if got := c.DisplayName(); got != "claude-sonnet-4-6 @ Anthropic" {
		t.Errorf("DisplayName() = %q", got)
	}
}
