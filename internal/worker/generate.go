package worker

import (
	"context"
	"strings"
)

// Generator produces a response for a request body. The implementation is
// opaque to the loop: anything from a canned lookup to a full inference
// pipeline satisfies it.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, text string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Canned is a deterministic Generator for local runs and smoke tests. It
// echoes the question back with a fixed preamble, trimmed to the first
// complete sentence.
type Canned struct {
	Preamble string
}

func (c Canned) Generate(_ context.Context, text string) (string, error) {
	preamble := c.Preamble
	if preamble == "" {
		preamble = "You asked: "
	}
	reply := preamble + text
	if !strings.HasSuffix(reply, ".") && !strings.HasSuffix(reply, "!") && !strings.HasSuffix(reply, "?") {
		reply += "."
	}
	return TrimToSentence(reply), nil
}

// TrimToSentence cuts a string at the first sentence-ending punctuation mark,
// a crude guard against generators that trail off mid-thought.
func TrimToSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return s[:i+1]
	}
	return s
}
