// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/dakarenzi/AI-Tutor/internal/llm"
)

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Generator returns scripted replies in order, then repeats Fallback.
type Generator struct {
	mu       sync.Mutex
	script   []Reply
	Fallback Reply
	// Respond, when set, computes the reply from the request instead.
	Respond func(req llm.Request) (string, error)
	calls    []llm.Request
}

// New returns a Generator that answers with replies in order and then
// repeats the last one.
func New(replies ...Reply) *Generator {
	g := &Generator{script: replies}
	if len(replies) > 0 {
		g.Fallback = replies[len(replies)-1]
	}
	return g
}

// Echo returns a Generator whose reply is the last message's content.
func Echo() *Generator {
	return &Generator{Respond: func(req llm.Request) (string, error) {
		if len(req.Messages) == 0 {
			return "", nil
		}
		return req.Messages[len(req.Messages)-1].Content, nil
	}}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	var reply Reply
	switch {
	case g.Respond != nil:
		g.mu.Unlock()
		text, err := g.Respond(req)
		reply = Reply{Text: text, Err: err}
		g.mu.Lock()
	case len(g.script) > 0:
		reply, g.script = g.script[0], g.script[1:]
	default:
		reply = g.Fallback
	}
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Response{Text: reply.Text, Model: "scripted", FinishReason: "stop"}, nil
}

// Calls returns the requests seen so far.
func (g *Generator) Calls() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.calls...)
}

// LastPrompt returns the content of the last message of the last call.
func (g *Generator) LastPrompt() string {
	calls := g.Calls()
	if len(calls) == 0 || len(calls[len(calls)-1].Messages) == 0 {
		return ""
	}
	msgs := calls[len(calls)-1].Messages
	return msgs[len(msgs)-1].Content
}
