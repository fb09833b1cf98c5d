// Package gemini implements the oracle contract on the Google GenAI API:
// structured criteria extraction via JSON-schema constrained output, and
// streaming turn generation with function calling.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/matching"
	"github.com/studycircle/studycircle/internal/oracle"
)

const (
	defaultChatModel    = "gemini-2.5-flash"
	defaultExtractModel = "gemini-2.5-flash"
)

const extractionInstruction = `You extract structured study-partner search criteria from a free-text query.
Fill only the facets the query actually constrains; leave everything else empty.
Put anything that does not fit a structured facet into free_text.`

// Client wraps the GenAI client for both oracle roles.
type Client struct {
	client       *genai.Client
	chatModel    string
	extractModel string
}

// NewClient creates a Client for the Gemini API backend. Empty model names
// fall back to the defaults.
func NewClient(ctx context.Context, apiKey, chatModel, extractModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	if chatModel = strings.TrimSpace(chatModel); chatModel == "" {
		chatModel = defaultChatModel
	}
	if extractModel = strings.TrimSpace(extractModel); extractModel == "" {
		extractModel = defaultExtractModel
	}

	return &Client{client: client, chatModel: chatModel, extractModel: extractModel}, nil
}

// ExtractCriteria sends the query to the model with a response schema and
// parses the structured result. Any transport or parse failure is reported
// as fault.ErrOracle; there is no degraded fallback.
func (c *Client) ExtractCriteria(ctx context.Context, text string) (matching.Criteria, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: extractionInstruction}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   criteriaSchema(),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.extractModel, genai.Text(text), config)
	if err != nil {
		return matching.Criteria{}, fmt.Errorf("%w: criteria extraction: %v", fault.ErrOracle, err)
	}

	raw := resp.Text()
	if raw == "" {
		return matching.Criteria{}, fmt.Errorf("%w: empty extraction response", fault.ErrOracle)
	}

	var criteria matching.Criteria
	if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
		return matching.Criteria{}, fmt.Errorf("%w: malformed extraction output: %v", fault.ErrOracle, err)
	}
	return criteria, nil
}

func criteriaSchema() *genai.Schema {
	stringArray := &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeString},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"university":  {Type: genai.TypeString, Description: "University name, if constrained"},
			"major":       {Type: genai.TypeString, Description: "Field of study, if constrained"},
			"interests":   stringArray,
			"skills":      stringArray,
			"study_goals": stringArray,
			"study_times": stringArray,
			"min_gpa":     {Type: genai.TypeNumber, Description: "Minimum GPA, if requested"},
			"min_rating":  {Type: genai.TypeNumber, Description: "Minimum partner rating, if requested"},
			"free_text":   {Type: genai.TypeString, Description: "Residual query text not captured by a facet"},
		},
	}
}

// Generate starts one streaming generation leg and returns a pull-based
// stream over it. Tool calls surface as chunks; the caller executes them
// and starts a new leg with the results appended.
func (c *Client) Generate(ctx context.Context, req oracle.GenerateRequest) (oracle.Stream, error) {
	contents, err := buildContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("%w: building turn context: %v", fault.ErrOracle, err)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: empty turn context", fault.ErrOracle)
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: buildDeclarations(req.Tools)}}
	}

	seq := c.client.Models.GenerateContentStream(ctx, c.chatModel, contents, config)
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}, nil
}

func buildContents(messages []oracle.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "user":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case "assistant":
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, fmt.Errorf("parsing arguments of tool call %s: %w", tc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case "tool":
			var parts []*genai.Part
			for _, tr := range m.ToolResults {
				response := map[string]any{"output": tr.Output}
				if tr.IsError {
					response = map[string]any{"error": tr.Output}
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.CallID,
						Name:     tr.Name,
						Response: response,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return contents, nil
}

func buildDeclarations(tools []oracle.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		properties := make(map[string]*genai.Schema, len(t.Params))
		for name, p := range t.Params {
			properties[name] = paramSchema(p)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   t.Required,
			},
		})
	}
	return decls
}

func paramSchema(p oracle.ParamSpec) *genai.Schema {
	s := &genai.Schema{Description: p.Description}
	switch p.Type {
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		s.Items = &genai.Schema{Type: genai.TypeString}
	default:
		s.Type = genai.TypeString
	}
	return s
}

// stream adapts the GenAI push iterator to the pull-based oracle.Stream.
// Responses carrying several parts are buffered and drained one chunk at
// a time.
type stream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []oracle.Chunk
	done    bool
}

func (s *stream) Next() (oracle.Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.done {
			return oracle.Chunk{}, io.EOF
		}

		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return oracle.Chunk{}, io.EOF
		}
		if err != nil {
			s.done = true
			return oracle.Chunk{}, fmt.Errorf("%w: generation: %v", fault.ErrOracle, err)
		}
		s.pending = append(s.pending, chunksOf(resp)...)
	}
}

func (s *stream) Close() error {
	s.stop()
	s.done = true
	return nil
}

func chunksOf(resp *genai.GenerateContentResponse) []oracle.Chunk {
	var chunks []oracle.Chunk
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				chunks = append(chunks, oracle.Chunk{TextDelta: part.Text})
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.New().String()
				}
				chunks = append(chunks, oracle.Chunk{ToolCall: &oracle.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				}})
			}
		}
	}
	return chunks
}
