package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalnine/cloudeval/internal/tools"
)

var (
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")
	ErrNonASCIIKey   = errors.New("OPENAI_API_KEY must use ASCII characters")
	ErrMissingModel  = errors.New("OPENAI_MODEL is required")
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient overrides the traced default client.
	HTTPClient *http.Client
}

// OpenAIModel is a ChatModel backed by the chat completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel validates the credentials and builds a client.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	for i := 0; i < len(cfg.APIKey); i++ {
		if cfg.APIKey[i] > 0x7f {
			return nil, ErrNonASCIIKey
		}
	}
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

// NewOpenAIModelFromEnv reads OPENAI_API_KEY and OPENAI_MODEL from the agent
// environment.
func NewOpenAIModelFromEnv(env map[string]string, baseURL string) (*OpenAIModel, error) {
	return NewOpenAIModel(OpenAIConfig{
		APIKey:  env["OPENAI_API_KEY"],
		BaseURL: baseURL,
		Model:   env["OPENAI_MODEL"],
	})
}

func (m *OpenAIModel) Name() string { return m.model }

func (m *OpenAIModel) Chat(ctx context.Context, messages []Message, descs []tools.Description) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: convertMessages(messages),
		Tools:    convertTools(descs),
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
		params.ParallelToolCalls = openai.Bool(false)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	msg := resp.Choices[0].Message
	out := &Response{
		Message:          Message{Role: RoleAssistant, Content: msg.Content},
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range msg.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(descs []tools.Description) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(descs))
	for _, d := range descs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}
