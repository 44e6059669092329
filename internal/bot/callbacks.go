package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scouter/internal/model"
)

const (
	cmdArea          = "area"
	cbRemoveConfirm  = "rmarea_confirm"
	cbRemove         = "rmarea"
	cbNoop           = "noop"
	maxKeyboardAreas = 10
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, id, ok := strings.Cut(cb.Data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdArea:
		b.handleArea(ctx, chatID, id)
	case cbRemoveConfirm:
		b.confirmRemoveArea(ctx, chatID, id)
	case cbRemove:
		b.handleRemoveArea(ctx, chatID, id)
	}
}

func (b *Bot) confirmRemoveArea(ctx context.Context, chatID int64, args string) {
	area, ok := b.ownedArea(ctx, chatID, args, "/rmarea")
	if !ok {
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete area %s %s? This cannot be undone.", area.ID, areaName(*area)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", cbRemove+":"+area.ID),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func areaKeyboard(areas []model.Area) *tgbotapi.InlineKeyboardMarkup {
	if len(areas) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, min(len(areas), maxKeyboardAreas))
	for i, a := range areas {
		if i == maxKeyboardAreas {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Show "+a.ID, cmdArea+":"+a.ID),
			tgbotapi.NewInlineKeyboardButtonData("Delete", cbRemoveConfirm+":"+a.ID),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
