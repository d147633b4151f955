package geminiclient

import (
	"fmt"

	"github.com/rangen/geminigw/pkg/errx"
)

// Content is one turn's worth of parts, with an optional role ("user" or
// "model"). This is the minimal wire shape the server expects; the typed
// convenience layer the original SDK exposes (message history helpers,
// multimodal builders, ...) is out of scope here.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a single piece of content. Only the text part is constructed by
// this package; a caller building a pre-shaped request map can still send
// inline-data or function-call parts verbatim, since Input accepts a raw
// map and is forwarded as-is.
type Part struct {
	Text string `json:"text,omitempty"`
}

// GenerationConfig mirrors the server's generationConfig object. Zero
// fields are omitted rather than sent as explicit zeroes.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// SafetySetting mirrors one entry of the server's safetySettings array.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GenerateRequest is the wire body for generateContent/streamGenerateContent.
type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

// GenerateResponse is the minimal slice of the server's response this
// package interprets; unrecognized fields are simply not modeled.
type GenerateResponse struct {
	Candidates []struct {
		Content Content `json:"content"`
	} `json:"candidates"`
}

// Text concatenates every text part of the first candidate, the same
// flattening behaviour the teacher's convertFromGeminiResponse applies.
func (r GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range r.Candidates[0].Content.Parts {
		out += p.Text
	}
	return out
}

// CountTokensRequest is the wire body for countTokens.
type CountTokensRequest struct {
	Contents []Content `json:"contents"`
}

// CountTokensResponse is the server's countTokens reply.
type CountTokensResponse struct {
	TotalTokens int `json:"totalTokens"`
}

// ModelsPage is the server's list-models reply.
type ModelsPage struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// Options carries per-call overrides for the four logical operations.
// Zero values mean "no override".
type Options struct {
	Backend           *BackendOverride
	Model             string
	Temperature       *float64
	TopP              *float64
	TopK              *int
	MaxOutputTokens   *int
	Stop              []string
	SystemInstruction string
	SafetySettings    []SafetySetting
}

// BackendOverride pins a single call to a specific backend, bypassing the
// client's configured default-backend discovery.
type BackendOverride int

const (
	BackendDirect BackendOverride = iota
	BackendPlatform
)

// buildGenerateRequest normalizes input into a GenerateRequest and merges
// opts into generationConfig/top-level fields the way H2's contract
// describes: a bare string becomes one content with one text part and no
// role (the service treats it as the user turn); a
// []Content is forwarded as-is; a map[string]any is assumed to already be a
// complete request body and is returned as an opaque map instead (callers
// wanting full control skip the normalized struct entirely).
func buildGenerateRequest(input any, opts Options) (any, *errx.Error) {
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		req := GenerateRequest{Contents: []Content{{Parts: []Part{{Text: v}}}}}
		applyOptions(&req, opts)
		return req, nil

	case []Content:
		if len(v) == 0 {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		req := GenerateRequest{Contents: v}
		applyOptions(&req, opts)
		return req, nil

	case map[string]any:
		if len(v) == 0 {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		return v, nil

	default:
		return nil, errorRegistry.New(ErrUnknownInput).WithDetail("type", typeName(input))
	}
}

func applyOptions(req *GenerateRequest, opts Options) {
	if opts.SystemInstruction != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: opts.SystemInstruction}}}
	}
	if len(opts.SafetySettings) > 0 {
		req.SafetySettings = opts.SafetySettings
	}

	if opts.Temperature == nil && opts.TopP == nil && opts.TopK == nil && opts.MaxOutputTokens == nil && len(opts.Stop) == 0 {
		return
	}
	req.GenerationConfig = &GenerationConfig{
		Temperature:     opts.Temperature,
		TopP:            opts.TopP,
		TopK:            opts.TopK,
		MaxOutputTokens: opts.MaxOutputTokens,
		StopSequences:   opts.Stop,
	}
}

func buildCountTokensRequest(input any) (any, *errx.Error) {
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		return CountTokensRequest{Contents: []Content{{Role: "user", Parts: []Part{{Text: v}}}}}, nil

	case []Content:
		if len(v) == 0 {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		return CountTokensRequest{Contents: v}, nil

	case map[string]any:
		if len(v) == 0 {
			return nil, errorRegistry.New(ErrEmptyInput)
		}
		return v, nil

	default:
		return nil, errorRegistry.New(ErrUnknownInput).WithDetail("type", typeName(input))
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
