// Package corepipeline wires the intent-to-enforcement pipeline (parser,
// policy engine, dispatcher) into the single entry point the API calls.
// It holds no enforcement logic of its own — only composition.
package corepipeline

import (
	"context"

	"github.com/ibsfleet/controller/internal/dispatch"
	"github.com/ibsfleet/controller/internal/intent"
	"github.com/ibsfleet/controller/internal/policy"
)

// Pipeline composes the parser, policy engine, and dispatcher behind the
// single Submit-shaped surface apiserver.Pipeline expects.
type Pipeline struct {
	parser     *intent.Parser
	engine     *policy.Engine
	dispatcher *dispatch.Dispatcher
}

// New returns a Pipeline over the given parser, engine, and dispatcher.
func New(parser *intent.Parser, engine *policy.Engine, dispatcher *dispatch.Dispatcher) *Pipeline {
	return &Pipeline{parser: parser, engine: engine, dispatcher: dispatcher}
}

// Parse classifies directive and rejects it with an intent.ParseError when
// a non-general type captured no parameters.
func (p *Pipeline) Parse(directive string) (*intent.ParsedIntent, error) {
	pi := p.parser.Parse(directive)
	if err := pi.Validate(); err != nil {
		return nil, err
	}
	return pi, nil
}

// Generate expands pi into its ordered Policy list (pure, no I/O).
func (p *Pipeline) Generate(pi *intent.ParsedIntent) ([]policy.Policy, error) {
	return p.engine.Generate(pi)
}

// Dispatch applies policies in order across both enforcement planes.
func (p *Pipeline) Dispatch(ctx context.Context, policies []policy.Policy) []dispatch.Result {
	return p.dispatcher.Dispatch(ctx, policies)
}
