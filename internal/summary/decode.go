package summary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

// ErrMalformedResponse is returned by [Decode] when the model reply is not
// JSON or lacks a required field.
var ErrMalformedResponse = errors.New("summary: malformed response")

// reply is the structured output requested from the model.
type reply struct {
	Summary     string   `json:"summary" jsonschema:"description=Three to five sentences covering the outcome of the call."`
	NextActions []string `json:"nextActions" jsonschema:"description=Concrete follow-up actions for the collections team, most important first."`
}

// Decoded is a successfully validated model reply.
type Decoded struct {
	Text        string
	NextActions []string
}

// Decode validates a model reply. Both the summary text and at least one
// non-blank next action are required; anything else yields
// [ErrMalformedResponse].
func Decode(content string) (Decoded, error) {
	var r reply
	if err := llm.DecodeJSON(content, &r); err != nil {
		return Decoded{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	text := strings.TrimSpace(r.Summary)
	if text == "" {
		return Decoded{}, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	var actions []string
	for _, a := range r.NextActions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return Decoded{}, fmt.Errorf("%w: missing next actions", ErrMalformedResponse)
	}
	return Decoded{Text: text, NextActions: actions}, nil
}
