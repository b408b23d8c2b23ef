package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama talks to a local Ollama server. It lists the installed models and produces turns either through
// the chat endpoint, where the history becomes a list of role-tagged messages, or through the generate
// endpoint, where the history is flattened into a single transcript prompt.
type Ollama struct {
	host     string
	endpoint string

	client *api.Client

	logger *slog.Logger
}

// Ollama endpoints a turn can be generated with.
const (
	OllamaEndpointChat     = "chat"
	OllamaEndpointGenerate = "generate"
)

// DefaultOllamaHost is where a locally installed Ollama listens.
const DefaultOllamaHost = "http://localhost:11434"

// NewOllama creates a new Ollama instance for the server at host. An empty host selects
// DefaultOllamaHost and an empty endpoint selects the chat endpoint.
func NewOllama(host, endpoint string, logger *slog.Logger) (Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	switch endpoint {
	case "":
		endpoint = OllamaEndpointChat
	case OllamaEndpointChat, OllamaEndpointGenerate:
	default:
		return Ollama{}, fmt.Errorf("unknown ollama endpoint: %s", endpoint)
	}

	return Ollama{
		host:     host,
		endpoint: endpoint,
		client:   api.NewClient(u, &http.Client{}),
		logger:   logger.With(slog.String("module", "ollama")),
	}, nil
}

// Models returns the names of the models installed on the server.
func (o Ollama) Models(ctx context.Context) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, 0, len(res.Models))
	for _, m := range res.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Chat streams one turn from the acting model. The response is yielded chunk by chunk as the server
// produces it. Cancelling ctx ends the stream without an error.
func (o Ollama) Chat(ctx context.Context, req models.TurnRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.Model == "" {
			yield("", errors.New("model is required"))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		o.logger.Debug("Sending turn",
			slog.String("model", req.Model),
			slog.String("endpoint", o.endpoint),
			slog.Int("history", len(req.History)))

		t := true
		var err error
		switch o.endpoint {
		case OllamaEndpointGenerate:
			r := api.GenerateRequest{
				Model:  req.Model,
				Prompt: transcriptPrompt(req),
				System: req.System,
				Stream: &t,
			}
			err = o.client.Generate(ctx, &r, func(res api.GenerateResponse) error {
				if !yield(res.Response, nil) {
					cancel()
				}
				return nil
			})
		default:
			r := api.ChatRequest{
				Model:    req.Model,
				Messages: ollamaMessages(req),
				Stream:   &t,
			}
			err = o.client.Chat(ctx, &r, func(res api.ChatResponse) error {
				if !yield(res.Message.Content, nil) {
					cancel()
				}
				return nil
			})
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

func ollamaMessages(req models.TurnRequest) []api.Message {
	turns := chatTurns(req)
	msgs := make([]api.Message, len(turns))
	for i, t := range turns {
		msgs[i] = api.Message{Role: t.role, Content: t.content}
	}
	return msgs
}

type chatTurn struct {
	role    string
	content string
}

// chatTurns lays a turn request out from the acting model's point of view: its own replies are
// "assistant" messages and everything else, the seed included, is "user" input.
func chatTurns(req models.TurnRequest) []chatTurn {
	turns := make([]chatTurn, 0, len(req.History)+2)
	if req.System != "" {
		turns = append(turns, chatTurn{role: "system", content: req.System})
	}
	turns = append(turns, chatTurn{role: "user", content: req.Seed})

	for _, msg := range req.History {
		if msg.Speaker == req.Speaker {
			turns = append(turns, chatTurn{role: "assistant", content: msg.Text})
			continue
		}
		turns = append(turns, chatTurn{role: "user", content: msg.Line()})
	}
	return turns
}

// transcriptPrompt flattens a turn request into one prompt: the seed, then one "name: text" line per
// message. With no history the prompt is the seed alone.
func transcriptPrompt(req models.TurnRequest) string {
	if len(req.History) == 0 {
		return req.Seed
	}

	var sb strings.Builder
	sb.WriteString(req.Seed)
	sb.WriteString("\n\n")
	sb.WriteString(models.RenderTranscript(req.History))
	return sb.String()
}
