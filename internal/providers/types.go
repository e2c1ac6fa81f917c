// Package providers implements BOLT's inference backends: the local
// Ollama server and an optional cloud endpoint auto-detected from the
// API key prefix. Both stream through the same event channel shape.
package providers

import "context"

// EventKind discriminates stream events.
type EventKind int

const (
	// EventText carries a chunk of generated text.
	EventText EventKind = iota
	// EventError carries a user-visible error line. The stream may
	// continue (degraded retry) or end after it.
	EventError
	// EventDone terminates the stream. Always the final event.
	EventDone
)

// StreamEvent is one event on a chat stream. Errors travel as their own
// event kind, never spliced into text chunks.
type StreamEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Message is one chat message in provider wire shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a chat backend. Chat streams events until EventDone; the
// returned channel is always closed after the done event. Generate is the
// non-streaming single-prompt variant used by background workers.
type Client interface {
	// Chat streams a completion for the message list on the given model.
	Chat(ctx context.Context, model string, messages []Message) <-chan StreamEvent
	// Generate returns a complete response for a bare prompt.
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// NormalizeMessages prepares a message list for the wire: empty messages
// are dropped, roles outside the provider vocabulary become "user", and
// consecutive same-role non-system messages are merged so strict backends
// never see user/user or assistant/assistant adjacency.
func NormalizeMessages(messages []Message) []Message {
	var out []Message
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		role := m.Role
		switch role {
		case "system", "user", "assistant":
		default:
			role = "user"
		}
		if n := len(out); n > 0 && out[n-1].Role == role && role != "system" {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

// errorStream returns a closed stream carrying one error and a done event.
func errorStream(text string, err error) <-chan StreamEvent {
	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Kind: EventError, Text: text, Err: err}
	ch <- StreamEvent{Kind: EventDone}
	close(ch)
	return ch
}
