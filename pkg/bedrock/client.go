package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/naolabs/nao-slack-bridge/pkg/models"
)

const (
	// Default Bedrock model ID for Claude 3.5 Sonnet
	DefaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
)

// Client is the agent capability backed by AWS Bedrock Runtime.
type Client struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewClient creates a new Bedrock client
func NewClient(cfg aws.Config) *Client {
	return &Client{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: DefaultModelID,
	}
}

// SetModel allows overriding the default model ID
func (c *Client) SetModel(modelID string) {
	if modelID != "" {
		c.modelID = modelID
	}
}

// bedrockRequest is a request in the Claude Messages API format.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []models.Message `json:"messages"`
	System           string           `json:"system,omitempty"`
}

// bedrockResponse is a response from Bedrock.
type bedrockResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate produces an answer from the chat transcript. The transcript must
// end with the user's latest turn. Cancelling ctx aborts the in-flight
// model invocation.
func (c *Client) Generate(ctx context.Context, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty")
	}

	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		Messages:         messages,
		System:           systemPrompt,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("empty response from Bedrock")
	}

	return response.Content[0].Text, nil
}

const systemPrompt = `You are nao, a data assistant answering questions from Slack threads.

Guidelines:
- Be concise but thorough in your responses
- The conversation may span multiple turns; use the earlier turns for context
- Use Slack-friendly formatting: short paragraphs, code blocks for queries and code
- If you're unsure, acknowledge limitations and suggest next steps

Respond in a friendly, professional tone.`
