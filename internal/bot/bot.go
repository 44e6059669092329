// Package bot implements the Telegram operator console: lead lookups,
// WhatsApp sends gated by the messaging window, and area drawing from
// shared locations.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scouter/internal/config"
	"scouter/internal/geo"
	"scouter/internal/storage"
	"scouter/internal/whatsapp"
	"scouter/internal/window"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Assistant answers free-form questions. It is optional.
type Assistant interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Bot is the Telegram bot that handles operator commands and sends alerts.
type Bot struct {
	api       telegramAPI
	store     storage.Storage
	cfg       *config.Config
	messenger *whatsapp.Messenger
	assistant Assistant
	engine    window.Engine
	now       func() time.Time
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*geo.Session
}

// New creates a Bot with the given Telegram token. assistant may be nil.
func New(token string, store storage.Storage, cfg *config.Config, messenger *whatsapp.Messenger, assistant Assistant, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, store, cfg, messenger, assistant, log), nil
}

func newBot(api telegramAPI, store storage.Storage, cfg *config.Config, messenger *whatsapp.Messenger, assistant Assistant, log *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		store:     store,
		cfg:       cfg,
		messenger: messenger,
		assistant: assistant,
		engine:    messenger.Engine(),
		now:       time.Now,
		log:       log,
		sessions:  make(map[int64]*geo.Session),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !msg.IsCommand() && msg.Location == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	if msg.Location != nil {
		b.handleLocation(msg.Chat.ID, msg.Location.Latitude, msg.Location.Longitude)
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "leads":
		b.handleLeads(ctx, chatID, args)
	case "lead":
		b.handleLead(ctx, chatID, args)
	case "window":
		b.handleWindow(ctx, chatID, args)
	case "send":
		b.handleSend(ctx, chatID, args)
	case "template":
		b.handleTemplate(ctx, chatID, args)
	case "draw":
		b.handleDraw(ctx, chatID)
	case "undo":
		b.handleUndo(chatID)
	case "finish":
		b.handleFinish(ctx, chatID, args)
	case "cancel":
		b.handleCancel(chatID)
	case "rect":
		b.handleRect(ctx, chatID, args)
	case "areas":
		b.handleAreas(ctx, chatID)
	case cmdArea:
		b.handleArea(ctx, chatID, args)
	case "rmarea":
		b.confirmRemoveArea(ctx, chatID, args)
	case "clear":
		b.handleClear(ctx, chatID)
	case "heat":
		b.handleHeat(ctx, chatID, args)
	case "ask":
		b.handleAsk(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// owner keys saved areas to the chat that drew them.
func owner(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}
