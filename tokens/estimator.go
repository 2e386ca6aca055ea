// Package tokens estimates token counts for context management and
// usage accounting when providers do not report them.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/loopkit/loopkit/schema"
)

// perMessageOverhead approximates the framing tokens chat APIs add
// around each message.
const perMessageOverhead = 4

// Estimator counts tokens with a tiktoken encoding when one is known
// for the model, falling back to a bytes/4 heuristic otherwise.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model name.
// Unknown models get the heuristic fallback, not an error.
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	return &Estimator{enc: enc}
}

// Count returns the estimated token count for text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// CountMessage estimates tokens for a single message including framing.
func (e *Estimator) CountMessage(msg schema.Message) int {
	n := e.Count(msg.Content) + perMessageOverhead
	for _, tc := range msg.ToolCalls {
		n += e.Count(tc.Name) + e.Count(string(tc.Args))
	}
	return n
}

// CountMessages estimates tokens for a transcript.
func (e *Estimator) CountMessages(msgs []schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountMessage(m)
	}
	return total
}
