package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
)

var (
	// ErrRemoteService wraps failures of the describe call.
	ErrRemoteService = errors.New("vision: remote service error")

	// ErrEncode wraps failures to prepare a frame for upload.
	ErrEncode = errors.New("vision: cannot encode frame")
)

// Describer turns a JPEG image into a short description. The preamble is the
// system message; no other conversation is sent.
type Describer interface {
	Describe(ctx context.Context, jpeg []byte, prompt, preamble string) (string, error)
}

type DescriberFunc func(ctx context.Context, jpeg []byte, prompt, preamble string) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, jpeg []byte, prompt, preamble string) (string, error) {
	return f(ctx, jpeg, prompt, preamble)
}

type OpenAIDescriber struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewOpenAIDescriber(client openai.Client, model string, maxTokens int) *OpenAIDescriber {
	return &OpenAIDescriber{client: client, model: model, maxTokens: maxTokens}
}

func (d *OpenAIDescriber) Describe(ctx context.Context, jpeg []byte, prompt, preamble string) (string, error) {
	url := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if preamble != "" {
		messages = append(messages, openai.SystemMessage(preamble))
	}
	messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
	}))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(d.model),
	}
	if d.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(d.maxTokens))
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrRemoteService, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrRemoteService)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: empty message content", ErrRemoteService)
	}

	return content, nil
}
