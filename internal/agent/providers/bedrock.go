package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/mrtian2016/flowpilot/internal/agent/toolconv"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

const defaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// BedrockProvider talks to foundation models hosted on AWS Bedrock
// through the Converse API. Credentials come from the default AWS
// chain unless the config carries an explicit key pair.
type BedrockProvider struct {
	client    *bedrockruntime.Client
	model     string
	maxTokens int
	temp      *float64
	region    string
	base      BaseProvider
}

// BedrockConfig holds construction parameters. All fields are
// optional; an empty config uses the default credential chain in
// us-east-1.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	MaxTokens       int
	Temperature     *float64
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrockProvider loads AWS config and builds the runtime client.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultBedrockModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		region:    cfg.Region,
		base:      NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "bedrock".
func (p *BedrockProvider) Name() string { return "bedrock" }

// Model returns the configured model id.
func (p *BedrockProvider) Model() string { return p.model }

// SupportsToolUse is true; the Converse API handles tool use for
// compatible models.
func (p *BedrockProvider) SupportsToolUse() bool { return true }

// Chat sends one buffered Converse turn and normalizes the reply.
func (p *BedrockProvider) Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error) {
	input := p.buildInput(messages, tools)

	var out *bedrockruntime.ConverseOutput
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var callErr error
		out, callErr = p.client.Converse(ctx, input)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.parseOutput(out)
}

// StreamChat streams text frames via ConverseStream. With tools
// present it degrades to a buffered Chat call.
func (p *BedrockProvider) StreamChat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error) {
	if len(tools) > 0 {
		return fallbackStream(ctx, p, messages, tools)
	}

	in := p.buildInput(messages, nil)
	streamIn := &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
	}

	stream, err := p.client.ConverseStream(ctx, streamIn)
	if err != nil {
		return nil, p.wrapError(err)
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer close(ch)
		eventStream := stream.GetStream()
		defer eventStream.Close()

		events := eventStream.Events()
		for {
			select {
			case <-ctx.Done():
				ch <- models.StreamChunk{Type: models.ChunkEnd, Err: p.wrapError(ctx.Err())}
				return
			case event, ok := <-events:
				if !ok {
					if err := eventStream.Err(); err != nil {
						ch <- models.StreamChunk{Type: models.ChunkEnd, Err: p.wrapError(err)}
					} else {
						ch <- models.StreamChunk{Type: models.ChunkEnd}
					}
					return
				}
				switch ev := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					if delta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && delta.Value != "" {
						ch <- models.StreamChunk{Type: models.ChunkContent, Content: delta.Value}
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					ch <- models.StreamChunk{Type: models.ChunkEnd}
					return
				}
			}
		}
	}()
	return ch, nil
}

func (p *BedrockProvider) buildInput(messages []models.Message, tools []models.ToolDefinition) *bedrockruntime.ConverseInput {
	system, rest := splitSystem(messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: convertBedrockMessages(rest),
	}

	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	maxTokens := min(p.maxTokens, math.MaxInt32)
	inference := &types.InferenceConfiguration{
		// #nosec G115 -- bounded by min above
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if p.temp != nil {
		inference.Temperature = aws.Float32(float32(*p.temp))
	}
	input.InferenceConfig = inference

	if len(tools) > 0 {
		input.ToolConfig = toolconv.ToBedrockTools(tools)
	}

	return input
}

func (p *BedrockProvider) parseOutput(out *bedrockruntime.ConverseOutput) (*models.ProviderResponse, error) {
	resp := &models.ProviderResponse{
		Model:      p.model,
		StopReason: models.StopReasonStop,
	}

	if out.Usage != nil {
		resp.Usage = models.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}

	switch out.StopReason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		resp.StopReason = models.StopReasonStop
	case types.StopReasonToolUse:
		resp.StopReason = models.StopReasonToolUse
	case types.StopReasonMaxTokens:
		resp.StopReason = models.StopReasonMaxTokens
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		resp.StopReason = models.StopReasonSafety
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", p.model, errors.New("unexpected converse output shape"))
	}

	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content += b.Value
		case *types.ContentBlockMemberToolUse:
			var args map[string]any
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					args = map[string]any{}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: toolconv.NormalizeArgs(args),
			})
		}
	}

	return finalize(resp), nil
}

// convertBedrockMessages rewrites the neutral log into Converse
// messages. Tool results ride as tool_result content blocks inside a
// user-role message, mirroring the Anthropic block layout.
func convertBedrockMessages(messages []models.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		for _, block := range msg.ToolResults() {
			tr := types.ToolResultBlock{
				ToolUseId: aws.String(block.ToolUseID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: block.Content},
				},
			}
			if block.IsError {
				tr.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: tr})
		}

		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(args),
				},
			})
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result
}

func (p *BedrockProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", p.model, err)
}
