package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	// AWS
	AWSRegion string

	// Slack
	SlackBotToken      string
	SlackSigningSecret string

	// DynamoDB
	ChatsTable   string
	HistoryTable string
	UsersTable   string

	// Bedrock
	BedrockModelID string

	// Web app the final reply links back to
	BaseURL string

	// HTTP server
	Port int

	// Environment
	Environment string
}

// Load reads configuration from environment variables. Missing Slack
// credentials are not fatal here: the webhook handler reports them as a 400
// per request, so the process can start without them.
func Load() *Config {
	return &Config{
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		SlackBotToken:      getEnv("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
		ChatsTable:         getEnv("CHATS_TABLE", "nao-chats"),
		HistoryTable:       getEnv("CHAT_HISTORY_TABLE", "nao-chat-history"),
		UsersTable:         getEnv("USERS_TABLE", "nao-users"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		BaseURL:            getEnv("BASE_URL", "http://localhost:5005/"),
		Port:               getEnvInt("PORT", 5010),
		Environment:        getEnv("ENVIRONMENT", "dev"),
	}
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.SlackBotToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if c.SlackSigningSecret == "" {
		return fmt.Errorf("SLACK_SIGNING_SECRET is required")
	}
	if c.ChatsTable == "" {
		return fmt.Errorf("CHATS_TABLE is required")
	}
	if c.UsersTable == "" {
		return fmt.Errorf("USERS_TABLE is required")
	}
	return nil
}

// HasSlackCredentials reports whether both Slack secrets are configured.
// Handlers treat their absence as a client error on the request, not a crash.
func (c *Config) HasSlackCredentials() bool {
	return c.SlackBotToken != "" && c.SlackSigningSecret != ""
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
