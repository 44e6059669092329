package bot

import (
	"context"
	"errors"
	"fmt"

	"scouter/internal/analysis"
	"scouter/internal/geo"
	"scouter/internal/model"
)

func (b *Bot) handleDraw(ctx context.Context, chatID int64) {
	b.mu.Lock()
	if s, ok := b.sessions[chatID]; ok && s.State() == geo.StateDrawing {
		b.mu.Unlock()
		b.reply(chatID, "A drawing is already in progress. /finish or /cancel it first.")
		return
	}
	b.mu.Unlock()

	leads, err := b.store.ListGeotaggedLeads(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	s := geo.NewSession(leads, b.cfg.LivePreviewLimit)
	if err := s.Start(); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.mu.Lock()
	b.sessions[chatID] = s
	b.mu.Unlock()

	mode := "exact live preview"
	if s.Points() > b.liveLimit() {
		mode = "bounding-box preview, exact selection on /finish"
	}
	b.reply(chatID, fmt.Sprintf("Drawing started over %d geotagged leads (%s).\nSend locations (attach > Location) to add vertices.", s.Points(), mode))
}

func (b *Bot) handleLocation(chatID int64, lat, lng float64) {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	var (
		p   geo.Preview
		err error
	)
	if ok {
		p, err = s.AddVertex(geo.Vertex{Lat: lat, Lng: lng})
	}
	b.mu.Unlock()

	if !ok || errors.Is(err, geo.ErrNotDrawing) {
		b.reply(chatID, "No drawing in progress. Use /draw first.")
		return
	}
	b.reply(chatID, FormatPreview(p))
}

func (b *Bot) handleUndo(chatID int64) {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	var (
		p   geo.Preview
		err error
	)
	if ok {
		p, err = s.Undo()
	}
	b.mu.Unlock()

	if !ok || err != nil {
		b.reply(chatID, "No drawing in progress.")
		return
	}
	b.reply(chatID, FormatPreview(p))
}

func (b *Bot) handleCancel(chatID int64) {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	if ok {
		delete(b.sessions, chatID)
	}
	b.mu.Unlock()

	if !ok || s.Cancel() != nil {
		b.reply(chatID, "No drawing in progress.")
		return
	}
	b.reply(chatID, "Drawing discarded.")
}

func (b *Bot) handleFinish(ctx context.Context, chatID int64, name string) {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	var (
		area geo.Area
		sel  geo.Selection
		err  error
	)
	if ok {
		area, sel, err = s.Finish(model.NewAreaID())
		if err == nil {
			delete(b.sessions, chatID)
		}
	}
	b.mu.Unlock()

	switch {
	case !ok || errors.Is(err, geo.ErrNotDrawing):
		b.reply(chatID, "No drawing in progress. Use /draw first.")
		return
	case errors.Is(err, geo.ErrTooFewVertices):
		b.reply(chatID, "An area needs at least 3 vertices. Send more locations.")
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.saveArea(ctx, chatID, area, name, sel.Matched)
}

func (b *Bot) handleRect(ctx context.Context, chatID int64, args string) {
	bounds, err := ParseRectArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	leads, err := b.store.ListGeotaggedLeads(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	area := geo.NewRectangle(model.NewAreaID(), bounds)
	b.saveArea(ctx, chatID, area, "", geo.Select(area, leads).Matched)
}

func (b *Bot) saveArea(ctx context.Context, chatID int64, area geo.Area, name string, matched []model.Lead) {
	stored := area.ToModel(owner(chatID), name)
	if err := b.store.CreateArea(ctx, &stored); err != nil {
		b.log.Error("create area", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to save area: %v", err))
		return
	}
	b.log.Info("area saved", "area_id", stored.ID, "chat_id", chatID, "kind", stored.Kind, "leads", len(matched))
	b.reply(chatID, FormatAreaSummary(stored, analysis.Generate(matched)))
}

func (b *Bot) handleAreas(ctx context.Context, chatID int64) {
	areas, err := b.store.ListAreas(ctx, owner(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.sendWithKeyboard(chatID, FormatAreaList(areas), areaKeyboard(areas))
}

func (b *Bot) handleArea(ctx context.Context, chatID int64, args string) {
	area, matched, ok := b.loadSelection(ctx, chatID, args, "/area")
	if !ok {
		return
	}
	b.reply(chatID, FormatAreaSummary(*area, analysis.Generate(matched)))
}

func (b *Bot) handleHeat(ctx context.Context, chatID int64, args string) {
	area, matched, ok := b.loadSelection(ctx, chatID, args, "/heat")
	if !ok {
		return
	}
	b.reply(chatID, FormatHeat(*area, geo.Heat(matched, geo.DefaultCellSize)))
}

func (b *Bot) handleRemoveArea(ctx context.Context, chatID int64, args string) {
	area, ok := b.ownedArea(ctx, chatID, args, "/rmarea")
	if !ok {
		return
	}
	if err := b.store.DeleteArea(ctx, area.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting area: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Area %s %s deleted.", area.ID, areaName(*area)))
}

func (b *Bot) handleClear(ctx context.Context, chatID int64) {
	b.mu.Lock()
	delete(b.sessions, chatID)
	b.mu.Unlock()

	n, err := b.store.DeleteAreas(ctx, owner(chatID))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Cleared %d area(s).", n))
}

// ownedArea loads an area and checks that it belongs to the chat.
func (b *Bot) ownedArea(ctx context.Context, chatID int64, args, usage string) (*model.Area, bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: %s <area_id>", usage))
		return nil, false
	}
	area, err := b.store.GetArea(ctx, id)
	if err != nil || area.Owner != owner(chatID) {
		b.reply(chatID, fmt.Sprintf("Area %s not found.", id))
		return nil, false
	}
	return area, true
}

func (b *Bot) loadSelection(ctx context.Context, chatID int64, args, usage string) (*model.Area, []model.Lead, bool) {
	area, ok := b.ownedArea(ctx, chatID, args, usage)
	if !ok {
		return nil, nil, false
	}
	leads, err := b.store.ListGeotaggedLeads(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, nil, false
	}
	return area, geo.Select(geo.FromModel(*area), leads).Matched, true
}

func (b *Bot) liveLimit() int {
	if b.cfg.LivePreviewLimit > 0 {
		return b.cfg.LivePreviewLimit
	}
	return geo.DefaultLiveLimit
}
