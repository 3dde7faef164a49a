package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
	"github.com/adjara-labs/concierge/internal/pipeline"
)

// User-facing texts. Raw pipeline errors never reach the chat; a failed
// exchange always answers with the generic apology.
const (
	welcomeText = "👋 Hello! I'm your Batumi concierge. I remember our conversation, so ask away.\n\nCommands:\n/help - Show this help message\n/reset - Clear your conversation history"
	helpText    = "Available commands:\n/start - Start or restart the bot\n/help - Show this help message\n/reset - Clear your conversation history"
	apologyText = "Sorry, I ran into a problem answering that. Please try again in a moment."
	refusalText = "Sorry, this bot is invite-only."
)

// Dispatcher is the handle the transport uses to run pipeline work.
type Dispatcher interface {
	Submit(ctx context.Context, sessionID, question string) <-chan pipeline.Result
}

// PolicyService defines the interface for checking user permissions.
type PolicyService interface {
	IsAllowed(userID int64) bool
}

// Config carries transport settings.
type Config struct {
	Token      string
	WebhookURL string // empty selects long polling
	ListenAddr string // HTTP listen address in webhook mode
}

// Bot wires Telegram updates into the session dispatcher. Inbound updates
// are always acknowledged; failures surface to the user as a generic error
// message, never as silence and never as raw error text.
type Bot struct {
	bot        *bot.Bot
	cfg        Config
	dispatcher Dispatcher
	history    core.HistoryStore
	policy     PolicyService

	// Telegram caps bot message throughput globally; one limiter covers all
	// outbound sends.
	limiter *rate.Limiter

	// Recently handled update IDs. Webhook redeliveries are dropped here so
	// a slow pipeline run cannot trigger a duplicate answer.
	seen *cache.Cache
}

// NewBot creates a new bot instance.
func NewBot(cfg Config, dispatcher Dispatcher, history core.HistoryStore, policy PolicyService) (*Bot, error) {
	b := &Bot{
		cfg:        cfg,
		dispatcher: dispatcher,
		history:    history,
		policy:     policy,
		limiter:    rate.NewLimiter(rate.Limit(25), 5),
		seen:       cache.New(10*time.Minute, 20*time.Minute),
	}

	botAPI, err := bot.New(cfg.Token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	b.bot = botAPI
	return b, nil
}

// Start runs the bot until ctx is cancelled. With a webhook URL configured
// it registers the webhook and serves HTTP; otherwise it long-polls.
func (b *Bot) Start(ctx context.Context) error {
	if b.cfg.WebhookURL == "" {
		logger.TelegramInfo("No webhook URL configured, starting in long-polling mode")
		b.bot.Start(ctx)
		return nil
	}
	return b.startWebhook(ctx)
}

func (b *Bot) startWebhook(ctx context.Context) error {
	webhookURL := strings.TrimRight(b.cfg.WebhookURL, "/") + "/webhook"
	if _, err := b.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: webhookURL}); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	logger.TelegramInfo("Webhook set to %s", webhookURL)

	mux := http.NewServeMux()
	mux.Handle("/webhook", b.bot.WebhookHandler())

	srv := &http.Server{Addr: b.cfg.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	go b.bot.StartWebhook(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if _, err := b.bot.DeleteWebhook(shutdownCtx, &bot.DeleteWebhookParams{}); err != nil {
			logger.TelegramWarn("Failed to delete webhook on shutdown: %v", err)
		} else {
			logger.TelegramInfo("Webhook deleted")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server failed: %w", err)
	}
}

// handleUpdate handles a Telegram update. Anything the pipeline cannot use
// is acknowledged and dropped here, before a lane ever sees it.
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		logger.TelegramDebug("Ignored update %d without a usable message", update.ID)
		return
	}
	if b.duplicate(update.ID) {
		logger.TelegramDebug("Dropped redelivered update %d", update.ID)
		return
	}

	message := update.Message
	chatID := message.Chat.ID
	userID := message.From.ID

	if b.policy != nil && !b.policy.IsAllowed(userID) {
		logger.TelegramInfo("Chat[%d] User[%d]: Rejected by policy", chatID, userID)
		b.send(ctx, chatID, refusalText)
		return
	}

	if message.Text == "" {
		// Photos, stickers, voice notes: acknowledged, not answered.
		logger.TelegramInfo("Chat[%d] User[%d]: Ignored non-text message", chatID, userID)
		return
	}

	if message.Text[0] == '/' {
		b.handleCommand(ctx, message)
		return
	}

	b.handleTextMessage(ctx, message)
}

// duplicate records the update ID and reports whether it was seen before.
func (b *Bot) duplicate(updateID int64) bool {
	key := strconv.FormatInt(updateID, 10)
	if _, found := b.seen.Get(key); found {
		return true
	}
	b.seen.Set(key, struct{}{}, cache.DefaultExpiration)
	return false
}

// handleCommand processes a command message.
func (b *Bot) handleCommand(ctx context.Context, message *models.Message) {
	command := strings.TrimPrefix(strings.Split(message.Text, " ")[0], "/")
	chatID := message.Chat.ID
	sessionID := strconv.FormatInt(chatID, 10)
	logger.TelegramInfo("Chat[%d] User[%d]: Received command: /%s", chatID, message.From.ID, command)

	switch command {
	case "start":
		b.history.Reset(sessionID)
		b.send(ctx, chatID, welcomeText)
	case "help":
		b.send(ctx, chatID, helpText)
	case "reset":
		b.history.Reset(sessionID)
		logger.TelegramInfo("Chat[%d]: User reset conversation history", chatID)
		b.send(ctx, chatID, "✅ Your conversation history has been reset.")
	default:
		b.send(ctx, chatID, "Unknown command. Try /help to see available commands.")
	}
}

// handleTextMessage submits the question to the session's lane and relays
// the outcome.
func (b *Bot) handleTextMessage(ctx context.Context, message *models.Message) {
	chatID := message.Chat.ID
	sessionID := strconv.FormatInt(chatID, 10)
	logger.TelegramInfo("Chat[%d] User[%d]: Received text message", chatID, message.From.ID)

	typingDone := make(chan struct{})
	go b.sendContinuousTypingAction(ctx, chatID, typingDone)
	defer close(typingDone)

	resultCh := b.dispatcher.Submit(ctx, sessionID, message.Text)

	select {
	case res := <-resultCh:
		if res.Err != nil {
			logger.TelegramError("Chat[%d]: Pipeline failed (%s): %v", chatID, core.KindOf(res.Err), res.Err)
			b.send(ctx, chatID, apologyText)
			return
		}
		preview := res.Answer.Text
		if len(preview) > 80 {
			preview = preview[:80] + "..."
		}
		logger.TelegramInfo("Chat[%d]: Sending answer: %q (sources: %v)", chatID, preview, res.Answer.Sources)
		b.send(ctx, chatID, res.Answer.Text)
	case <-ctx.Done():
		logger.TelegramWarn("Chat[%d]: Context cancelled before the pipeline answered", chatID)
	}
}

// sendContinuousTypingAction sends the typing action periodically until the
// done channel is closed. Telegram's typing status lasts about five seconds.
func (b *Bot) sendContinuousTypingAction(ctx context.Context, chatID int64, done chan struct{}) {
	send := func() {
		b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: chatID,
			Action: models.ChatActionTyping,
		})
	}
	send()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			send()
		case <-ctx.Done():
			return
		}
	}
}

// send delivers one outbound message, fire and forget, through the shared
// rate limiter.
func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		logger.TelegramError("Chat[%d]: Failed to send message: %v", chatID, err)
	}
}
