package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to a local server exposing the OpenAI-compatible API, such as LM Studio, llama.cpp's
// server or vLLM.
type OpenAI struct {
	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance for the server at baseURL, e.g. "http://localhost:1234/v1".
// Local servers usually ignore the API key, so it may be empty.
func NewOpenAI(baseURL, apiKey string, logger *slog.Logger) (OpenAI, error) {
	if baseURL == "" {
		return OpenAI{}, errors.New("base url is required")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return OpenAI{
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}, nil
}

// Models returns the identifiers of the models the server offers.
func (o OpenAI) Models(ctx context.Context) ([]string, error) {
	res, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	ids := make([]string, 0, len(res.Models))
	for _, m := range res.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Chat streams one turn from the acting model using a streaming chat completion.
func (o OpenAI) Chat(ctx context.Context, req models.TurnRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.Model == "" {
			yield("", errors.New("model is required"))
			return
		}

		turns := chatTurns(req)
		msgs := make([]goopenai.ChatCompletionMessage, len(turns))
		for i, t := range turns {
			msgs[i] = goopenai.ChatCompletionMessage{Role: t.role, Content: t.content}
		}

		o.logger.Debug("Sending turn",
			slog.String("model", req.Model),
			slog.Int("history", len(req.History)))

		stream, err := o.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error creating chat completion stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			res, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving chat completion: %w", err))
				return
			}
			if len(res.Choices) == 0 {
				continue
			}
			if !yield(res.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
