package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/naolabs/nao-slack-bridge/pkg/bedrock"
	appconfig "github.com/naolabs/nao-slack-bridge/pkg/config"
	"github.com/naolabs/nao-slack-bridge/pkg/dynamodb"
	"github.com/naolabs/nao-slack-bridge/pkg/handler"
	slackclient "github.com/naolabs/nao-slack-bridge/pkg/slack"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration from .env")
	}

	cfg := appconfig.Load()
	if err := cfg.Validate(); err != nil {
		// Missing Slack credentials surface as 400s per request instead of
		// refusing to start, so the URL verification handshake and health
		// checks still work while the app is being set up.
		log.Printf("Warning: incomplete configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	ddbClient := dynamodb.NewClientWithConfig(awsCfg)
	chatRepo := dynamodb.NewChatRepository(ddbClient, cfg.ChatsTable, cfg.HistoryTable)
	userRepo := dynamodb.NewUserRepository(ddbClient, cfg.UsersTable)
	slackClient := slackclient.NewClient(cfg.SlackBotToken)
	agent := bedrock.NewClient(awsCfg)
	agent.SetModel(cfg.BedrockModelID)

	events := handler.NewEventHandler(cfg, slackClient, userRepo, chatRepo, agent)

	mux := http.NewServeMux()
	mux.Handle("/app_mention", events)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s (env: %s)", cfg.Addr(), cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	// Let in-flight agent work drain; abort it if the deadline passes.
	if err := events.Shutdown(shutdownCtx); err != nil {
		log.Printf("Aborted in-flight work: %v", err)
	}
}
