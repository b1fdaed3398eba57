package coaching_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/callcoach/internal/coaching"
	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/pkg/types"
)

func mustLexicon(t *testing.T) *lexicon.Lexicon {
	t.Helper()
	lex, err := lexicon.Default("en")
	if err != nil {
		t.Fatalf("lexicon.Default: %v", err)
	}
	return lex
}

func suggestionIDs(s []types.Suggestion) []string {
	ids := make([]string, len(s))
	for i, sug := range s {
		ids[i] = sug.ID
	}
	return ids
}

func TestFallback(t *testing.T) {
	t.Parallel()
	lex := mustLexicon(t)

	tests := []struct {
		name       string
		transcript string
		want       []string
	}{
		{
			name:       "nothing matched",
			transcript: "Hello, is this a good time to talk?",
			want:       []string{"fallback-rapport"},
		},
		{
			name:       "empty transcript",
			transcript: "",
			want:       []string{"fallback-rapport"},
		},
		{
			name:       "anger",
			transcript: "Stop calling me, this is RIDICULOUS",
			want:       []string{"fallback-de_escalation"},
		},
		{
			name:       "hardship",
			transcript: "Things are hard times for us, no money at all",
			want:       []string{"fallback-empathy"},
		},
		{
			name:       "commitment and channel",
			transcript: "I will pay through M-Pesa tomorrow",
			want:       []string{"fallback-closing", "fallback-verification"},
		},
		{
			name:       "swahili cues",
			transcript: "Nimechoka na simu zenu, sina pesa, nitalipa kwa lipa na m-pesa",
			want:       []string{"fallback-de_escalation", "fallback-empathy", "fallback-closing", "fallback-verification"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := coaching.Fallback(lex, tc.transcript)
			if ids := suggestionIDs(got); !slices.Equal(ids, tc.want) {
				t.Errorf("Fallback(%q) = %v, want %v", tc.transcript, ids, tc.want)
			}
		})
	}
}

func TestFallback_JobLossWinsOverHardship(t *testing.T) {
	t.Parallel()
	lex := mustLexicon(t)

	got := coaching.Fallback(lex, "I was laid off and I can't afford anything")
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want a single empathy suggestion: %v", len(got), suggestionIDs(got))
	}
	if got[0].Type != types.SuggestionEmpathy || got[0].Title != "Acknowledge the job loss" {
		t.Errorf("got %+v, want the job-loss empathy variant", got[0])
	}
	if got[0].Priority != types.SeverityHigh {
		t.Errorf("priority = %q, want high", got[0].Priority)
	}
}

func TestFallback_ReturnsIndependentCopies(t *testing.T) {
	t.Parallel()
	lex := mustLexicon(t)

	a := coaching.Fallback(lex, "hello")
	a[0].Phrases[0] = "mutated"
	b := coaching.Fallback(lex, "hello")
	if b[0].Phrases[0] == "mutated" {
		t.Error("Fallback results share phrase slices")
	}
	if a[0].LocalizedTitle == "" || len(a[0].LocalizedPhrases) == 0 {
		t.Error("fallback suggestions must carry Swahili text")
	}
}
