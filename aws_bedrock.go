package mcpbridge

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockClient is the part of the Bedrock runtime API used for embeddings.
// *bedrockruntime.Client satisfies it.
type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConverseClient is the part of the Bedrock runtime API used for chat.
type BedrockConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

var (
	_ BedrockClient         = (*bedrockruntime.Client)(nil)
	_ BedrockConverseClient = (*bedrockruntime.Client)(nil)
)
