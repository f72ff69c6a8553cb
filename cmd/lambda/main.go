package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/naolabs/nao-slack-bridge/pkg/bedrock"
	appconfig "github.com/naolabs/nao-slack-bridge/pkg/config"
	"github.com/naolabs/nao-slack-bridge/pkg/dynamodb"
	"github.com/naolabs/nao-slack-bridge/pkg/handler"
	"github.com/naolabs/nao-slack-bridge/pkg/models"
	slackclient "github.com/naolabs/nao-slack-bridge/pkg/slack"
)

// Handler is the Lambda handler for Slack events behind API Gateway.
//
// Lambda cannot answer Slack before the handler returns, so a slow agent
// call can outlive Slack's retry timeout. That is safe: retried deliveries
// carry the same thread key, and chat creation is idempotent on it.
func Handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cfg := appconfig.Load()

	body := []byte(request.Body)
	timestamp := header(request.Headers, "X-Slack-Request-Timestamp")
	signature := header(request.Headers, "X-Slack-Signature")
	if len(body) == 0 || timestamp == "" || signature == "" {
		return errorResponse(400, "Missing required headers or body"), nil
	}

	if cfg.SlackSigningSecret == "" {
		return errorResponse(400, "SLACK_SIGNING_SECRET is not configured"), nil
	}

	if !handler.VerifySlackSignature(body, timestamp, signature, cfg.SlackSigningSecret) {
		return errorResponse(403, "Invalid signature"), nil
	}

	var callback models.SlackEventCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		return errorResponse(400, "Invalid event format"), nil
	}

	if callback.Type == "url_verification" {
		log.Printf("Responding to Slack URL verification challenge")
		return okResponse(map[string]string{"challenge": callback.Challenge}), nil
	}

	if !cfg.HasSlackCredentials() {
		return errorResponse(400, "SLACK_BOT_TOKEN or SLACK_SIGNING_SECRET is not configured"), nil
	}

	if callback.Event == nil {
		return errorResponse(400, "Invalid request: missing event object"), nil
	}

	event := *callback.Event
	if err := event.Validate(); err != nil {
		return errorResponse(400, err.Error()), nil
	}

	if event.BotID != "" || event.SubType != "" || event.Type != "app_mention" {
		log.Printf("Ignoring event type %s (subtype %q)", event.Type, event.SubType)
		return okResponse(map[string]bool{"ok": true}), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return errorResponse(400, fmt.Sprintf("load aws config: %v", err)), nil
	}

	ddbClient := dynamodb.NewClientWithConfig(awsCfg)
	chatRepo := dynamodb.NewChatRepository(ddbClient, cfg.ChatsTable, cfg.HistoryTable)
	userRepo := dynamodb.NewUserRepository(ddbClient, cfg.UsersTable)
	agent := bedrock.NewClient(awsCfg)
	agent.SetModel(cfg.BedrockModelID)

	h := handler.NewEventHandler(cfg, slackclient.NewClient(cfg.SlackBotToken), userRepo, chatRepo, agent)
	if err := h.HandleAppMention(ctx, event); err != nil {
		// Failure past this point is already reported in-thread; the HTTP
		// status stays 200 so Slack does not pile on retries.
		log.Printf("app mention pipeline failed: %v", err)
	}

	return okResponse(map[string]bool{"ok": true}), nil
}

// header does a case-tolerant lookup; API Gateway does not normalize
// header casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// errorResponse returns a JSON error with the given status
func errorResponse(status int, message string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(map[string]string{"error": message})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// okResponse returns a successful response
func okResponse(body interface{}) events.APIGatewayProxyResponse {
	data, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Body:       string(data),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(Handler)
}
