package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"scouter/internal/config"
	"scouter/internal/model"
	"scouter/internal/storage"
	"scouter/internal/whatsapp"
	"scouter/internal/window"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

type mockSender struct {
	mu        sync.Mutex
	texts     []string
	templates []string
}

func (m *mockSender) SendText(_ context.Context, _, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return "gs-text", nil
}

func (m *mockSender) SendTemplate(_ context.Context, _, templateID string, params []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, templateID+"("+strings.Join(params, ",")+")")
	return "gs-tpl", nil
}

type mockAssistant struct {
	answer string
	err    error
	asked  []string
}

func (m *mockAssistant) Ask(_ context.Context, q string) (string, error) {
	m.asked = append(m.asked, q)
	return m.answer, m.err
}

// --- helpers ---

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	bot    *Bot
	api    *mockAPI
	store  *storage.SQLite
	sender *mockSender
}

func newTestBot(t *testing.T) fixture {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &mockAPI{}
	sender := &mockSender{}
	messenger := whatsapp.NewMessenger(store, sender, window.New(0), "BR", log)

	b := newBot(api, store, &config.Config{}, messenger, nil, log)
	b.now = func() time.Time { return testNow }
	return fixture{bot: b, api: api, store: store, sender: sender}
}

func ptr[T any](v T) *T { return &v }

func seedLead(t *testing.T, store *storage.SQLite, lead model.Lead) {
	t.Helper()
	if err := store.UpsertLead(context.Background(), &lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
}

func seedInbound(t *testing.T, store *storage.SQLite, leadID, msgID string, at time.Time) {
	t.Helper()
	err := store.RecordMessage(context.Background(), &model.Message{
		ID: msgID, LeadID: leadID, Direction: model.Inbound, Kind: model.KindText, Body: "oi", CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("seed inbound: %v", err)
	}
}

func commandUpdate(userID, chatID int64, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func locationUpdate(chatID int64, lat, lng float64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Location: &tgbotapi.Location{Latitude: lat, Longitude: lng},
	}}
}

func (f fixture) run(chatID int64, text string) string {
	f.bot.handleUpdate(context.Background(), commandUpdate(1, chatID, text))
	return f.api.lastText()
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStartAndHelp(t *testing.T) {
	f := newTestBot(t)
	requireContains(t, f.run(100, "/start"), "Welcome to Scouter")
	help := f.run(100, "/help")
	requireContains(t, help, "/draw")
	requireContains(t, help, "/template")
	requireContains(t, f.run(100, "/bogus"), "Unknown command")
}

func TestAccessDenied(t *testing.T) {
	f := newTestBot(t)
	f.bot.cfg = &config.Config{AllowedUsers: []int64{42}}

	f.bot.handleUpdate(context.Background(), commandUpdate(7, 100, "/leads"))
	requireContains(t, f.api.lastText(), "Access denied")

	f.bot.handleUpdate(context.Background(), commandUpdate(42, 100, "/leads"))
	requireContains(t, f.api.lastText(), "No leads yet")
}

func TestIgnoresPlainText(t *testing.T) {
	f := newTestBot(t)
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 100}, Text: "hello",
	}})
	if got := f.api.lastText(); got != "" {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestHandleLeads(t *testing.T) {
	f := newTestBot(t)
	requireContains(t, f.run(100, "/leads"), "No leads yet")
	requireContains(t, f.run(100, "/leads 500"), "between 1 and 50")

	seedLead(t, f.store, model.Lead{ID: "L1", Name: "Ana", Phone: "+5511987654321"})
	seedInbound(t, f.store, "L1", "m1", testNow.Add(-time.Hour))
	seedLead(t, f.store, model.Lead{ID: "L2", Name: "Bruno"})

	reply := f.run(100, "/leads 5")
	requireContains(t, reply, "L1 Ana (+5511987654321) [open, 23h 0m left]")
	requireContains(t, reply, "L2 Bruno [closed]")
}

func TestHandleLeadAndWindow(t *testing.T) {
	f := newTestBot(t)
	seedLead(t, f.store, model.Lead{ID: "L1", Name: "Ana", Phone: "+5511987654321", Project: "Verão", Lat: ptr(-23.5), Lng: ptr(-46.6)})
	seedInbound(t, f.store, "L1", "m1", testNow.Add(-30*time.Hour))

	requireContains(t, f.run(100, "/lead"), "Usage: /lead")
	requireContains(t, f.run(100, "/lead nope"), "Lead nope not found")

	info := f.run(100, "/lead L1")
	requireContains(t, info, "Lead L1: Ana")
	requireContains(t, info, "Project: Verão")
	requireContains(t, info, "Location: -23.500000, -46.600000")
	requireContains(t, info, "Window: closed")
	requireContains(t, info, "< 03-09 06:00 oi")

	requireContains(t, f.run(100, "/window L1"), "window closed since the last message on 2025-03-09 06:00 UTC")
}

func TestHandleSend(t *testing.T) {
	ctx := context.Background()

	t.Run("open window sends text", func(t *testing.T) {
		f := newTestBot(t)
		seedLead(t, f.store, model.Lead{ID: "L1", Name: "Ana", Phone: "+5511987654321"})
		seedInbound(t, f.store, "L1", "m1", testNow.Add(-time.Hour))

		requireContains(t, f.run(100, "/send L1 Olá Ana!"), "Message sent to Ana")
		if diff := cmp.Diff([]string{"Olá Ana!"}, f.sender.texts); diff != "" {
			t.Errorf("sent texts mismatch (-want +got):\n%s", diff)
		}
		msgs, _ := f.store.ListMessages(ctx, "L1", 10)
		if diff := cmp.Diff(2, len(msgs)); diff != "" {
			t.Errorf("message count mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("closed window refuses text", func(t *testing.T) {
		f := newTestBot(t)
		seedLead(t, f.store, model.Lead{ID: "L2", Name: "Bruno", Phone: "+5511987654322"})

		requireContains(t, f.run(100, "/send L2 oi"), "window of lead L2 is closed")
		if len(f.sender.texts) != 0 {
			t.Errorf("nothing should be sent, got %v", f.sender.texts)
		}
	})

	t.Run("closed window accepts template", func(t *testing.T) {
		f := newTestBot(t)
		seedLead(t, f.store, model.Lead{ID: "L2", Name: "Bruno", Phone: "+5511987654322"})

		requireContains(t, f.run(100, "/template L2 retorno Bruno | sexta"), "Template sent to Bruno")
		if diff := cmp.Diff([]string{"retorno(Bruno,sexta)"}, f.sender.templates); diff != "" {
			t.Errorf("templates mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("errors", func(t *testing.T) {
		f := newTestBot(t)
		seedLead(t, f.store, model.Lead{ID: "L3", Name: "Sem Fone"})
		requireContains(t, f.run(100, "/send L3"), "usage: /send")
		requireContains(t, f.run(100, "/send nope hi"), "Lead nope not found")
		requireContains(t, f.run(100, "/template L3 x"), "has no phone number")
		requireContains(t, f.run(100, "/template L3"), "usage: /template")
	})
}

func TestDrawFlow(t *testing.T) {
	f := newTestBot(t)
	ctx := context.Background()

	seedLead(t, f.store, model.Lead{ID: "tri", Project: "Verão", Lat: ptr(0.2), Lng: ptr(0.8)})
	seedLead(t, f.store, model.Lead{ID: "sq", Project: "Verão", Lat: ptr(0.8), Lng: ptr(0.2)})
	seedLead(t, f.store, model.Lead{ID: "far", Project: "Inverno", Lat: ptr(5.0), Lng: ptr(5.0)})
	seedLead(t, f.store, model.Lead{ID: "nogeo", Project: "Inverno"})

	loc := func(lat, lng float64) string {
		f.bot.handleUpdate(ctx, locationUpdate(100, lat, lng))
		return f.api.lastText()
	}

	requireContains(t, loc(0, 0), "No drawing in progress")
	requireContains(t, f.run(100, "/finish"), "No drawing in progress")

	requireContains(t, f.run(100, "/draw"), "Drawing started over 3 geotagged leads")
	requireContains(t, f.run(100, "/draw"), "already in progress")

	requireContains(t, loc(0, 0), "Add 2 more location(s)")
	requireContains(t, f.run(100, "/finish"), "at least 3 vertices")
	requireContains(t, loc(0, 1), "Leads in bounding box: 0 (approximate)")
	requireContains(t, loc(1, 1), "Leads inside: 1\n")
	requireContains(t, loc(1, 0), "Leads inside: 2\n")
	requireContains(t, f.run(100, "/undo"), "Leads inside: 1\n")
	loc(1, 0)

	summary := f.run(100, "/finish Centro")
	requireContains(t, summary, "\"Centro\" [polygon]")
	requireContains(t, summary, "Leads: 2")
	requireContains(t, summary, "Verão: 2")

	areas, err := f.store.ListAreas(ctx, owner(100))
	if err != nil {
		t.Fatalf("list areas: %v", err)
	}
	if diff := cmp.Diff(1, len(areas)); diff != "" {
		t.Fatalf("area count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(4, len(areas[0].Vertices)); diff != "" {
		t.Errorf("vertex count mismatch (-want +got):\n%s", diff)
	}

	// The session is gone after a successful finish.
	requireContains(t, loc(2, 2), "No drawing in progress")
}

func TestDrawCancel(t *testing.T) {
	f := newTestBot(t)
	requireContains(t, f.run(100, "/cancel"), "No drawing in progress")
	requireContains(t, f.run(100, "/undo"), "No drawing in progress")
	f.run(100, "/draw")
	requireContains(t, f.run(100, "/undo"), "Vertices: 0")
	requireContains(t, f.run(100, "/cancel"), "Drawing discarded")
	requireContains(t, f.run(100, "/cancel"), "No drawing in progress")
}

func TestDrawSessionsArePerChat(t *testing.T) {
	f := newTestBot(t)
	f.run(100, "/draw")
	f.bot.handleUpdate(context.Background(), locationUpdate(200, 0, 0))
	requireContains(t, f.api.lastText(), "No drawing in progress")
}

func TestAreaCommands(t *testing.T) {
	f := newTestBot(t)
	ctx := context.Background()
	seedLead(t, f.store, model.Lead{ID: "a", Scouter: "Bia", Lat: ptr(0.503), Lng: ptr(0.503)})
	seedLead(t, f.store, model.Lead{ID: "b", Scouter: "Bia", Lat: ptr(0.503), Lng: ptr(0.506)})
	seedLead(t, f.store, model.Lead{ID: "c", Scouter: "Caio", Lat: ptr(3.0), Lng: ptr(3.0)})

	requireContains(t, f.run(100, "/areas"), "No saved areas")
	requireContains(t, f.run(100, "/rect 1 0 0 1"), "south must be below north")
	requireContains(t, f.run(100, "/rect 0 0 1 1"), "Leads: 2")

	areas, _ := f.store.ListAreas(ctx, owner(100))
	if len(areas) != 1 {
		t.Fatalf("expected 1 area, got %d", len(areas))
	}
	id := areas[0].ID

	list := f.run(100, "/areas")
	requireContains(t, list, id+" (unnamed) [rectangle, 4 vertices]")
	if _, ok := f.api.last().Markup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("expected inline keyboard, got %T", f.api.last().Markup)
	}

	requireContains(t, f.run(100, "/area "+id), "Bia: 2")
	requireContains(t, f.run(100, "/heat "+id), "2 lead(s)")

	// Other chats cannot see the area.
	requireContains(t, f.run(200, "/area "+id), "not found")
	requireContains(t, f.run(200, "/rmarea "+id), "not found")

	requireContains(t, f.run(100, "/rmarea "+id), "This cannot be undone")
	if _, ok := f.api.last().Markup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("expected confirmation keyboard, got %T", f.api.last().Markup)
	}

	f.bot.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    cbRemove + ":" + id,
	}})
	requireContains(t, f.api.lastText(), "deleted")
	if _, err := f.store.GetArea(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected area to be gone, got %v", err)
	}
}

func TestCallbackShowArea(t *testing.T) {
	f := newTestBot(t)
	f.run(100, "/rect 0 0 1 1")
	areas, _ := f.store.ListAreas(context.Background(), owner(100))

	f.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    cmdArea + ":" + areas[0].ID,
	}})
	requireContains(t, f.api.lastText(), "Area "+areas[0].ID)
}

func TestHandleClear(t *testing.T) {
	f := newTestBot(t)
	f.run(100, "/rect 0 0 1 1")
	f.run(100, "/rect 1 1 2 2")
	f.run(200, "/rect 0 0 1 1")
	f.run(100, "/draw")

	requireContains(t, f.run(100, "/clear"), "Cleared 2 area(s)")
	requireContains(t, f.run(100, "/undo"), "No drawing in progress")

	others, _ := f.store.ListAreas(context.Background(), owner(200))
	if diff := cmp.Diff(1, len(others)); diff != "" {
		t.Errorf("other chat areas mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleAsk(t *testing.T) {
	f := newTestBot(t)
	requireContains(t, f.run(100, "/ask oi"), "not configured")

	a := &mockAssistant{answer: "Há 2 leads."}
	f.bot.assistant = a
	requireContains(t, f.run(100, "/ask"), "Usage: /ask")
	requireContains(t, f.run(100, "/ask quantos leads?"), "Há 2 leads.")
	if diff := cmp.Diff([]string{"quantos leads?"}, a.asked); diff != "" {
		t.Errorf("questions mismatch (-want +got):\n%s", diff)
	}

	a.err = errors.New("timeout")
	requireContains(t, f.run(100, "/ask de novo"), "assistant failed")
}

func TestSendMessage(t *testing.T) {
	f := newTestBot(t)
	f.bot.SendMessage(-1001, "alert")
	if diff := cmp.Diff(sentMsg{ChatID: -1001, Text: "alert"}, f.api.last()); diff != "" {
		t.Errorf("SendMessage mismatch (-want +got):\n%s", diff)
	}
}
