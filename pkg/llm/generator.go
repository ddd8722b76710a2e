package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/redact"
)

// Generator turns one utterance into a stream of response deltas. Every
// call is independent; nothing is carried between turns.
type Generator struct {
	adapter      Adapter
	systemPrompt string
	log          *slog.Logger
}

func NewGenerator(adapter Adapter, systemPrompt string, log *slog.Logger) *Generator {
	return &Generator{
		adapter:      adapter,
		systemPrompt: strings.TrimSpace(systemPrompt),
		log:          logging.NewComponentLogger(log, "generator"),
	}
}

// Stream starts generation for utterance.
func (g *Generator) Stream(ctx context.Context, utterance string) (<-chan Delta, error) {
	input := Context{}
	if g.systemPrompt != "" {
		input.Messages = append(input.Messages, SystemMessage(g.systemPrompt))
	}
	input.Messages = append(input.Messages, UserMessage(utterance))

	g.log.Info("sending utterance to llm",
		slog.String("provider", g.adapter.Name()),
		slog.String("utterance", redact.Text(utterance)))

	ch, err := g.adapter.Stream(ctx, input)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	return ch, nil
}
