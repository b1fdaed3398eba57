// Package openai implements [llm.Provider] on the OpenAI Chat Completions API.
//
// Requests that carry a [llm.ResponseSchema] are sent as a strict
// json_schema response format on models that support structured outputs.
// Older models get JSON mode plus the schema in the system prompt. Replies
// cut off by the token limit or refused by the model are returned as errors
// so callers take their fallback path instead of decoding half a document.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

var (
	// ErrTruncated is returned when the reply hit the output token limit.
	ErrTruncated = errors.New("openai: reply truncated at token limit")

	// ErrRefused is returned when the model declined to answer.
	ErrRefused = errors.New("openai: model refused")
)

// Provider implements [llm.Provider] using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	caps   types.ModelCapabilities
}

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures [New].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   modelCapabilities(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}

	choice := resp.Choices[0]
	switch {
	case choice.Message.Refusal != "":
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	case choice.FinishReason == "length" && req.ResponseSchema != nil:
		return nil, ErrTruncated
	}
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

// modelCapabilities knows the OpenAI model families. Structured outputs
// exist from gpt-4o and the o-series reasoning models onwards.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}
	lower := strings.ToLower(model)
	has := func(prefixes ...string) bool {
		for _, pre := range prefixes {
			if strings.HasPrefix(lower, pre) {
				return true
			}
		}
		return false
	}
	switch {
	case has("gpt-4o", "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsStructuredOutput = true
	case has("gpt-4-turbo"):
	case has("gpt-4"):
		caps.ContextWindow = 8_192
	case has("gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case has("o1-mini"):
		caps.MaxOutputTokens = 65_536
	case has("o1", "o3", "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsStructuredOutput = true
	}
	return caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model)}

	system := req.SystemPrompt
	if rs := req.ResponseSchema; rs != nil {
		if p.caps.SupportsStructuredOutput {
			js := oai.ResponseFormatJSONSchemaJSONSchemaParam{Name: rs.Name, Schema: rs.Schema, Strict: oai.Bool(true)}
			if rs.Description != "" {
				js.Description = oai.String(rs.Description)
			}
			params.ResponseFormat.OfJSONSchema = &oai.ResponseFormatJSONSchemaParam{JSONSchema: js}
		} else {
			params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
			system = withSchemaHint(system, rs)
		}
	}
	if system != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(system))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if n := req.MaxTokens; n > 0 {
		if limit := p.caps.MaxOutputTokens; limit > 0 {
			n = min(n, limit)
		}
		params.MaxCompletionTokens = param.NewOpt(int64(n))
	}
	return params, nil
}

// withSchemaHint appends the schema to the system prompt. JSON mode also
// requires the word "JSON" to appear in the messages.
func withSchemaHint(system string, rs *llm.ResponseSchema) string {
	schema, err := json.Marshal(rs.Schema)
	if err != nil {
		return system + "\n\nReply with a single JSON object."
	}
	if system != "" {
		system += "\n\n"
	}
	return system + "Reply with a single JSON object matching this schema:\n" + string(schema)
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
