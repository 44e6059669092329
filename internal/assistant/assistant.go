// Package assistant answers operator questions with an OpenAI-compatible
// model that can look up leads, windows and saved areas through tools.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"scouter/internal/model"
	"scouter/internal/window"
)

// MaxToolRounds bounds how many times the model may call tools per question.
const MaxToolRounds = 4

const findLimit = 10

// ErrTooManyRounds is returned when the model keeps calling tools.
var ErrTooManyRounds = errors.New("assistant did not answer within the tool round limit")

const promptTemplate = `You help talent scouting operators manage leads.
Answer in the language of the question, briefly.
Use the tools to look up facts; never guess lead data.
A WhatsApp window is open for %s after the lead's last message. While it is open, free-form messages may be sent; afterwards only approved templates.`

// systemPrompt states the configured window length.
func systemPrompt(length time.Duration) string {
	return fmt.Sprintf(promptTemplate, describeLength(length))
}

func describeLength(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Store is the read-only data the tools need.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetArea(ctx context.Context, id string) (*model.Area, error)
	ListGeotaggedLeads(ctx context.Context) ([]model.Lead, error)
	SearchLeads(ctx context.Context, query string, limit int) ([]model.Lead, error)
}

// Assistant runs the tool-calling loop.
type Assistant struct {
	client chatCompleter
	model  string
	store  Store
	engine window.Engine
	now    func() time.Time
	log    *slog.Logger
}

// New creates an Assistant against an OpenAI-compatible endpoint.
func New(apiKey, baseURL, modelName string, store Store, engine window.Engine, log *slog.Logger) *Assistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newWithClient(openai.NewClientWithConfig(cfg), modelName, store, engine, log)
}

func newWithClient(client chatCompleter, modelName string, store Store, engine window.Engine, log *slog.Logger) *Assistant {
	return &Assistant{
		client: client,
		model:  modelName,
		store:  store,
		engine: engine,
		now:    time.Now,
		log:    log,
	}
}

// Ask answers a free-form question.
func (a *Assistant) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(a.engine.Duration())},
		{Role: openai.ChatMessageRoleUser, Content: question},
	}

	for round := 0; ; round++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.model,
			Messages:    messages,
			Tools:       tools,
			Temperature: 0.2,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no response choices")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return strings.TrimSpace(msg.Content), nil
		}
		if round == MaxToolRounds {
			return "", ErrTooManyRounds
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result := a.runTool(ctx, call.Function.Name, call.Function.Arguments)
			a.log.Debug("assistant tool", "tool", call.Function.Name, "round", round)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
}
