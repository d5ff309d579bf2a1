package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// converseAPI is the slice of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock invokes a model through the AWS Bedrock Converse API.
type Bedrock struct {
	client converseAPI
	model  string
}

// NewBedrock loads AWS configuration and creates the runtime client.
// Static credentials are used when both key fields are set; otherwise the
// default credential chain applies.
func NewBedrock(ctx context.Context, cfg Config) (*Bedrock, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: load aws config: %w", err)
	}
	return newBedrockWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg.Model), nil
}

func newBedrockWithClient(client converseAPI, model string) *Bedrock {
	if model == "" {
		model = defaultBedrockModel
	}
	return &Bedrock{client: client, model: model}
}

// Invoke implements Invoker.
func (b *Bedrock) Invoke(ctx context.Context, req Request) (string, error) {
	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("llm: bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("llm: bedrock: %w", ErrEmptyResponse)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("llm: bedrock: %w", ErrEmptyResponse)
	}
	return sb.String(), nil
}
