package bot

import (
	"context"
	"errors"
	"fmt"

	"scouter/internal/storage"
	"scouter/internal/whatsapp"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Scouter!

Follow up leads on WhatsApp and select them on the map.

Quick start:
1. /leads - recent leads and their WhatsApp window
2. /send <lead_id> <text> - message a lead while the window is open
3. /draw - draw an area by sending locations

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Leads:
/leads [n] - latest leads (default 10)
/lead <id> - lead details and recent messages
/window <id> - WhatsApp window status

Messaging:
/send <id> <text> - free-form message (window must be open)
/template <id> <template_id> [p1 | p2] - approved template

Areas:
/draw - start drawing; then send locations as vertices
/undo - drop the last vertex
/finish [name] - save the area and show its leads
/cancel - discard the drawing
/rect <south> <west> <north> <east> - save a rectangle
/areas - saved areas
/area <id> - leads and summary of an area
/heat <id> - lead density inside an area
/rmarea <id> - delete an area
/clear - delete all your areas

/ask <question> - ask the assistant`)
}

func (b *Bot) handleLeads(ctx context.Context, chatID int64, args string) {
	limit, err := ParseLimitArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	leads, err := b.store.ListLeads(ctx, limit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatLeadList(leads, b.engine, b.now()))
}

func (b *Bot) handleLead(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /lead <id>")
		return
	}
	lead, err := b.store.GetLead(ctx, id)
	if err != nil {
		b.replyLookupError(chatID, "Lead", id, err)
		return
	}
	msgs, err := b.store.ListMessages(ctx, lead.ID, 5)
	if err != nil {
		b.log.Error("list messages", "lead_id", lead.ID, "error", err)
	}
	b.reply(chatID, FormatLeadInfo(lead, b.engine.Compute(lead.LastInboundAt, b.now()), msgs))
}

func (b *Bot) handleWindow(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /window <id>")
		return
	}
	lead, err := b.store.GetLead(ctx, id)
	if err != nil {
		b.replyLookupError(chatID, "Lead", id, err)
		return
	}
	b.reply(chatID, FormatWindowStatus(lead, b.engine.Compute(lead.LastInboundAt, b.now())))
}

func (b *Bot) handleSend(ctx context.Context, chatID int64, args string) {
	id, text, err := ParseSendArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.send(ctx, chatID, id, whatsapp.Outgoing{Text: text})
}

func (b *Bot) handleTemplate(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseTemplateArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.send(ctx, chatID, parsed.LeadID, whatsapp.Outgoing{TemplateID: parsed.TemplateID, Params: parsed.Params})
}

func (b *Bot) send(ctx context.Context, chatID int64, leadID string, out whatsapp.Outgoing) {
	lead, err := b.store.GetLead(ctx, leadID)
	if err != nil {
		b.replyLookupError(chatID, "Lead", leadID, err)
		return
	}

	res, err := b.messenger.Send(ctx, lead, out, b.now())
	switch {
	case errors.Is(err, whatsapp.ErrWindowClosed):
		b.reply(chatID, fmt.Sprintf("The window of lead %s is closed. Use /template %s <template_id> instead.", lead.ID, lead.ID))
	case errors.Is(err, whatsapp.ErrNoPhone):
		b.reply(chatID, fmt.Sprintf("Lead %s has no phone number.", lead.ID))
	case err != nil:
		b.log.Error("send whatsapp", "lead_id", lead.ID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to send: %v", err))
	default:
		b.reply(chatID, FormatSendResult(lead, res))
	}
}

func (b *Bot) handleAsk(ctx context.Context, chatID int64, args string) {
	if b.assistant == nil {
		b.reply(chatID, "The assistant is not configured.")
		return
	}
	if args == "" {
		b.reply(chatID, "Usage: /ask <question>")
		return
	}
	answer, err := b.assistant.Ask(ctx, args)
	if err != nil {
		b.log.Error("assistant", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("The assistant failed: %v", err))
		return
	}
	b.reply(chatID, answer)
}

func (b *Bot) replyLookupError(chatID int64, kind, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("%s %s not found.", kind, id))
		return
	}
	b.log.Error("lookup", "kind", kind, "id", id, "error", err)
	b.reply(chatID, fmt.Sprintf("Error: %v", err))
}
