package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/naolabs/nao-slack-bridge/pkg/config"
	"github.com/naolabs/nao-slack-bridge/pkg/models"
)

// maxBodySize bounds the webhook payload we are willing to read.
const maxBodySize = 1 << 20 // 1MB

// SlackClient is the messaging-platform surface the pipeline needs.
type SlackClient interface {
	PostThreadMessage(ctx context.Context, channel, text, threadTS string) error
	GetUserEmail(ctx context.Context, slackUserID string) (string, error)
}

// UserStore resolves platform identities by email. GetByEmail returns
// models.ErrUserNotFound when no account matches; accounts are never
// created from this path.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Agent is the external conversational capability. Generate produces an
// answer from the full transcript, which ends with the user's latest turn.
// It must observe ctx cancellation promptly.
type Agent interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
}

// EventHandler owns the request/response lifecycle for Slack webhook events:
// signature verification, event parsing, acknowledgement, identity and chat
// resolution, agent invocation, and reply dispatch.
type EventHandler struct {
	cfg      *config.Config
	slack    SlackClient
	users    UserStore
	chats    ChatStore
	agent    Agent
	resolver *ConversationResolver

	// baseCtx scopes post-acknowledgement work to the handler's lifetime
	// rather than the HTTP connection, which is already closed by then.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEventHandler creates a new event handler
func NewEventHandler(cfg *config.Config, slackClient SlackClient, users UserStore, chats ChatStore, agent Agent) *EventHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHandler{
		cfg:      cfg,
		slack:    slackClient,
		users:    users,
		chats:    chats,
		agent:    agent,
		resolver: NewConversationResolver(chats),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// ServeHTTP handles POST /app_mention. Everything up to the acknowledgement
// maps failures to HTTP status codes; once the 200 is written, failures are
// reported only as messages posted into the originating thread.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	timestamp := r.Header.Get("x-slack-request-timestamp")
	signature := r.Header.Get("x-slack-signature")
	if len(body) == 0 || timestamp == "" || signature == "" {
		writeError(w, http.StatusBadRequest, "Missing required headers or body")
		return
	}

	if h.cfg.SlackSigningSecret == "" {
		writeError(w, http.StatusBadRequest, "SLACK_SIGNING_SECRET is not configured")
		return
	}

	if !VerifySlackSignature(body, timestamp, signature, h.cfg.SlackSigningSecret) {
		writeError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	var callback models.SlackEventCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event format")
		return
	}

	// URL verification handshake short-circuits the pipeline.
	if callback.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": callback.Challenge})
		return
	}

	if !h.cfg.HasSlackCredentials() {
		writeError(w, http.StatusBadRequest, "SLACK_BOT_TOKEN or SLACK_SIGNING_SECRET is not configured")
		return
	}

	if callback.Event == nil {
		writeError(w, http.StatusBadRequest, "Invalid request: missing event object")
		return
	}

	event := *callback.Event
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ignore bot-authored events, message subtypes and anything that is not
	// a mention; answering our own posts would loop.
	if event.BotID != "" || event.SubType != "" || event.Type != "app_mention" {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// Acknowledge now: Slack retries deliveries that are not answered within
	// a few seconds, and the identity lookup and agent call can take longer.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.HandleAppMention(h.baseCtx, event); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("app mention pipeline failed: %v", err)
		}
	}()
}

// HandleAppMention runs the post-acknowledgement workflow for one mention:
// resolve the sender to a platform user, post the "answering" placeholder,
// resolve the thread to its chat, invoke the agent, and dispatch the reply.
// Every failure path here ends in a message posted to the thread, except
// cancellation, which must leave no further side effects.
func (h *EventHandler) HandleAppMention(ctx context.Context, event models.SlackEventBody) error {
	text := event.CleanText()
	threadTS := event.ThreadRoot()
	log.Printf("Handling app mention from %s in channel %s (thread %s)", event.User, event.Channel, threadTS)

	user, err := h.resolveUser(ctx, event)
	if err != nil {
		return err
	}

	// The placeholder is posted only once the user is confirmed to exist.
	h.notify(ctx, event.Channel, threadTS, "🔄 nao is answering... please wait a few seconds.")

	threadKey := models.ThreadKey(event.Channel, threadTS)
	chat, err := h.resolver.CreateOrAppend(ctx, threadKey, user.UserID, text)
	if err != nil {
		if ctx.Err() == nil {
			h.notify(ctx, event.Channel, threadTS, "❌ Something went wrong loading this conversation. Please try again.")
		}
		return fmt.Errorf("resolve chat: %w", err)
	}

	answer, err := h.invokeAgent(ctx, chat, user.UserID, text)
	switch {
	case errors.Is(err, models.ErrNotChatOwner):
		h.notify(ctx, event.Channel, threadTS, "❌ You are not authorized to access this chat.")
		return err
	case ctx.Err() != nil:
		// Cancelled mid-generation: no answer is posted or persisted.
		return ctx.Err()
	case err != nil:
		h.notify(ctx, event.Channel, threadTS, "❌ nao could not answer this time. Please try again.")
		return fmt.Errorf("invoke agent: %w", err)
	}

	if err := h.chats.AppendMessage(ctx, chat.ChatID, models.RoleAssistant, answer); err != nil {
		h.notify(ctx, event.Channel, threadTS, "❌ nao could not save the answer. Please try again.")
		return fmt.Errorf("save answer: %w", err)
	}

	full := fmt.Sprintf("%s\n\nIf you want to see more, go to %s%s", answer, h.cfg.BaseURL, chat.ChatID)
	if err := h.slack.PostThreadMessage(ctx, event.Channel, full, threadTS); err != nil {
		return fmt.Errorf("post answer: %w", err)
	}
	log.Printf("Answered chat %s in channel %s", chat.ChatID, event.Channel)
	return nil
}

// resolveUser maps the Slack sender to a platform account via the profile
// email. An unknown account is terminal: a sign-up notice is posted and no
// chat is created.
func (h *EventHandler) resolveUser(ctx context.Context, event models.SlackEventBody) (*models.User, error) {
	email, err := h.slack.GetUserEmail(ctx, event.User)
	if err != nil {
		if ctx.Err() == nil {
			h.notify(ctx, event.Channel, event.ThreadRoot(), "❌ Could not retrieve your email from Slack.")
		}
		return nil, fmt.Errorf("get slack user email: %w", err)
	}

	user, err := h.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		msg := fmt.Sprintf("❌ No user found. Create an user account with %s on %s to sign up.", email, h.cfg.BaseURL)
		h.notify(ctx, event.Channel, event.ThreadRoot(), msg)
		return nil, err
	}
	if err != nil {
		if ctx.Err() == nil {
			h.notify(ctx, event.Channel, event.ThreadRoot(), "❌ Something went wrong looking up your account. Please try again.")
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// invokeAgent runs the agent against the chat transcript. The ownership
// check short-circuits before any agent work starts; the agent must never
// run for a requester who does not own the chat.
func (h *EventHandler) invokeAgent(ctx context.Context, chat *models.Chat, requestingUserID, text string) (string, error) {
	if chat.UserID != requestingUserID {
		return "", models.ErrNotChatOwner
	}

	history, err := h.chats.GetHistory(ctx, chat.ChatID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		history = []models.Message{{Role: models.RoleUser, Content: text}}
	}

	return h.agent.Generate(ctx, history)
}

// notify posts an informational or error message into the thread. Posting is
// best-effort: the ack has already been sent, so there is no status code
// left to change, only the thread to talk to.
func (h *EventHandler) notify(ctx context.Context, channel, threadTS, text string) {
	if err := h.slack.PostThreadMessage(ctx, channel, text, threadTS); err != nil {
		log.Printf("Failed to post message to channel %s: %v", channel, err)
	}
}

// Shutdown waits for in-flight post-acknowledgement work to finish. If ctx
// expires first, the handler's base context is cancelled, aborting any
// in-flight agent generations.
func (h *EventHandler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until all in-flight post-acknowledgement work has finished.
func (h *EventHandler) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
