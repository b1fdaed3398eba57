package llm_test

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

type reply struct {
	Summary     string   `json:"summary" jsonschema:"required"`
	NextActions []string `json:"nextActions" jsonschema:"required"`
	Nested      struct {
		Label string `json:"label"`
	} `json:"nested"`
}

func TestSchemaFor(t *testing.T) {
	t.Parallel()

	rs, err := llm.SchemaFor[reply]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if rs.Schema["type"] != "object" {
		t.Fatalf("type = %v, want object", rs.Schema["type"])
	}
	if rs.Schema["additionalProperties"] != false {
		t.Error("expected additionalProperties=false on root")
	}
	required, _ := rs.Schema["required"].([]string)
	for _, name := range []string{"summary", "nextActions", "nested"} {
		if !slices.Contains(required, name) {
			t.Errorf("expected %q in required, got %v", name, required)
		}
	}
	props := rs.Schema["properties"].(map[string]any)
	nested := props["nested"].(map[string]any)
	if nested["additionalProperties"] != false {
		t.Error("expected nested object to be strict")
	}
}

func TestSchemaFor_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := llm.SchemaFor[reply]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if got := first.Schema["required"].([]string); !slices.Equal(got, []string{"nested", "nextActions", "summary"}) {
		t.Errorf("required = %v, want sorted property names", got)
	}
	want, _ := json.Marshal(first.Schema)
	for range 20 {
		rs, err := llm.SchemaFor[reply]()
		if err != nil {
			t.Fatalf("SchemaFor: %v", err)
		}
		if got, _ := json.Marshal(rs.Schema); string(got) != string(want) {
			t.Fatalf("schema changed between runs:\n%s\n%s", got, want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"summary":"ok","nextActions":[]}`, want: "ok"},
		{name: "fenced", in: "```json\n{\"summary\":\"fenced\"}\n```", want: "fenced"},
		{name: "prose", in: `Here you go: {"summary":"prose"} thanks`, want: "prose"},
		{name: "empty", in: "   ", wantErr: true},
		{name: "no object", in: "I cannot help with that.", wantErr: true},
		{name: "broken", in: `{"summary": }`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var r reply
			err := llm.DecodeJSON(tc.in, &r)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Summary != tc.want {
				t.Errorf("Summary = %q, want %q", r.Summary, tc.want)
			}
		})
	}

	var r reply
	if err := llm.DecodeJSON("", &r); !errors.Is(err, llm.ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}
