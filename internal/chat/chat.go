// Package chat holds the spoken conversation with the language model.
package chat

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"
)

const Preamble = `You are Iris, a helpful AI assistant that can see through the laptop's camera.
You can turn the camera on and off, describe what you see, read visible text and take photos.
You are friendly, helpful, and concise in your responses.
Keep your responses brief and natural-sounding as they will be spoken aloud.`

var ErrEmptyReply = errors.New("chat: empty reply")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Completer sends a full conversation and returns the reply.
type Completer interface {
	Complete(ctx context.Context, preamble string, history []Message) (string, error)
}

type CompleterFunc func(ctx context.Context, preamble string, history []Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, preamble string, history []Message) (string, error) {
	return f(ctx, preamble, history)
}

// Conversation keeps a bounded history after the system preamble.
type Conversation struct {
	completer Completer
	preamble  string
	limit     int

	mu      sync.Mutex
	history []Message
}

func NewConversation(c Completer, preamble string, limit int) *Conversation {
	if limit < 2 {
		limit = 2
	}
	return &Conversation{completer: c, preamble: preamble, limit: limit}
}

func (c *Conversation) Preamble() string {
	return c.preamble
}

// Ask appends the user's text, asks the model and records the answer. A
// failed request leaves the user's turn in the history.
func (c *Conversation) Ask(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	c.append(Message{Role: RoleUser, Content: text})
	history := append([]Message(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.completer.Complete(ctx, c.preamble, history)
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyReply
	}

	c.mu.Lock()
	c.append(Message{Role: RoleAssistant, Content: reply})
	c.mu.Unlock()

	return reply, nil
}

func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

func (c *Conversation) append(m Message) {
	c.history = append(c.history, m)
	if over := len(c.history) - c.limit; over > 0 {
		c.history = append([]Message(nil), c.history[over:]...)
		log.Debug("Trimmed conversation history", "dropped", over)
	}
}

// OpenAI completes conversations through the chat completions API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(client openai.Client, model string, maxTokens int) *OpenAI {
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

func (o *OpenAI) Complete(ctx context.Context, preamble string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if preamble != "" {
		messages = append(messages, openai.SystemMessage(preamble))
	}

	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(o.model),
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}
