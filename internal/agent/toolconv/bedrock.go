package toolconv

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// ToBedrockTools converts the neutral catalog to a Bedrock Converse
// tool configuration.
func ToBedrockTools(defs []models.ToolDefinition) *types.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}

	tools := make([]types.Tool, len(defs))
	for i, def := range defs {
		var schema any
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: tools}
}
