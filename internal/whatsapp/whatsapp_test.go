package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scouter/internal/model"
	"scouter/internal/storage"
	"scouter/internal/window"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error

	lastReq  *http.Request
	lastForm url.Values
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		m.lastForm, _ = url.ParseQuery(string(raw))
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestClientSendText(t *testing.T) {
	tr := &mockTransport{body: `{"status":"submitted","messageId":"gs-1"}`, statusCode: 202}
	c := NewClient(tr, Config{BaseURL: "https://gs.example/wa/api/v1/", APIKey: "key", Source: "5511900000000", AppName: "scouter"})

	id, err := c.SendText(context.Background(), "+5511987654321", "Olá!")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if diff := cmp.Diff("gs-1", id); diff != "" {
		t.Errorf("message id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://gs.example/wa/api/v1/msg", tr.lastReq.URL.String()); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("key", tr.lastReq.Header.Get("apikey")); diff != "" {
		t.Errorf("apikey mismatch (-want +got):\n%s", diff)
	}
	want := url.Values{
		"channel":     {"whatsapp"},
		"source":      {"5511900000000"},
		"destination": {"5511987654321"},
		"src.name":    {"scouter"},
		"message":     {`{"text":"Olá!","type":"text"}`},
	}
	if diff := cmp.Diff(want, tr.lastForm); diff != "" {
		t.Errorf("form mismatch (-want +got):\n%s", diff)
	}
}

func TestClientSendTemplate(t *testing.T) {
	tr := &mockTransport{body: `{"status":"submitted","messageId":"gs-2"}`, statusCode: 200}
	c := NewClient(tr, Config{APIKey: "key", Source: "55", AppName: "app"})

	id, err := c.SendTemplate(context.Background(), "+5511987654321", "tpl-1", nil)
	if err != nil {
		t.Fatalf("send template: %v", err)
	}
	if diff := cmp.Diff("gs-2", id); diff != "" {
		t.Errorf("message id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(DefaultBaseURL+"/template/msg", tr.lastReq.URL.String()); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(`{"id":"tpl-1","params":[]}`, tr.lastForm.Get("template")); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name string
		tr   *mockTransport
	}{
		{name: "http status", tr: &mockTransport{body: "unauthorized", statusCode: 401}},
		{name: "network", tr: &mockTransport{err: io.ErrUnexpectedEOF}},
		{name: "provider error", tr: &mockTransport{body: `{"status":"error","message":"Invalid Destination"}`, statusCode: 200}},
		{name: "garbage body", tr: &mockTransport{body: "<html>", statusCode: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.tr, Config{})
			if _, err := c.SendText(context.Background(), "+55", "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Inbound
		wantOK  bool
		wantErr bool
	}{
		{
			name: "text message",
			body: `{"app":"scouter","timestamp":1741608000000,"version":2,"type":"message",
				"payload":{"id":"ABEGkZlgQyWAAgo-sDVSUOa9jH0z","source":"5511987654321","type":"text",
				"payload":{"text":"Oi, quero saber mais"},
				"sender":{"phone":"5511987654321","name":"Maria","country_code":"55","dial_code":"11987654321"}}}`,
			want: Inbound{
				MessageID: "ABEGkZlgQyWAAgo-sDVSUOa9jH0z", Phone: "5511987654321", Name: "Maria",
				Type: "text", Text: "Oi, quero saber mais",
				At: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name: "image with caption",
			body: `{"type":"message","timestamp":0,"payload":{"id":"m2","type":"image",
				"payload":{"caption":"minha foto","url":"https://x"},"sender":{"phone":"5511987654321"}}}`,
			want:   Inbound{MessageID: "m2", Phone: "5511987654321", Type: "image", Text: "minha foto"},
			wantOK: true,
		},
		{
			name: "location without text",
			body: `{"type":"message","payload":{"id":"m3","type":"location","source":"5511987654321",
				"payload":{"latitude":"-23.5","longitude":"-46.6"}}}`,
			want:   Inbound{MessageID: "m3", Phone: "5511987654321", Type: "location", Text: "[location]"},
			wantOK: true,
		},
		{
			name:   "delivery event",
			body:   `{"type":"message-event","payload":{"id":"m1","type":"delivered"}}`,
			wantOK: false,
		},
		{
			name:    "no sender",
			body:    `{"type":"message","payload":{"id":"m4","type":"text","payload":{"text":"?"}}}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			body:    `{`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseWebhook([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseWebhook mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type sent struct {
	Kind   string
	Phone  string
	Text   string
	Params []string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (m *mockSender) SendText(_ context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sent{Kind: "text", Phone: phone, Text: text})
	return "p-text", nil
}

func (m *mockSender) SendTemplate(_ context.Context, phone, templateID string, params []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sent{Kind: "template", Phone: phone, Text: templateID, Params: params})
	return "p-tpl", nil
}

func newTestMessenger(t *testing.T) (*Messenger, *mockSender, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sender := &mockSender{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMessenger(store, sender, window.New(0), "BR", log), sender, store
}

func TestMessengerSendGating(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	old := now.Add(-30 * time.Hour)

	tests := []struct {
		name     string
		last     *time.Time
		out      Outgoing
		wantMode window.Mode
		wantErr  error
		wantSent []sent
	}{
		{
			name:     "open window sends free form",
			last:     &recent,
			out:      Outgoing{Text: "Olá"},
			wantMode: window.ModeFreeForm,
			wantSent: []sent{{Kind: "text", Phone: "+5511987654321", Text: "Olá"}},
		},
		{
			name:     "open window with only template",
			last:     &recent,
			out:      Outgoing{TemplateID: "tpl"},
			wantMode: window.ModeTemplate,
			wantSent: []sent{{Kind: "template", Phone: "+5511987654321", Text: "tpl"}},
		},
		{
			name:     "closed window falls back to template",
			last:     &old,
			out:      Outgoing{Text: "Olá", TemplateID: "tpl", Params: []string{"Maria"}},
			wantMode: window.ModeTemplate,
			wantSent: []sent{{Kind: "template", Phone: "+5511987654321", Text: "tpl", Params: []string{"Maria"}}},
		},
		{
			name:    "closed window refuses free form",
			last:    &old,
			out:     Outgoing{Text: "Olá"},
			wantErr: ErrWindowClosed,
		},
		{
			name:    "never contacted refuses free form",
			last:    nil,
			out:     Outgoing{Text: "Olá"},
			wantErr: ErrWindowClosed,
		},
		{
			name:    "empty message",
			last:    &recent,
			out:     Outgoing{},
			wantErr: ErrEmptyMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sender, _ := newTestMessenger(t)
			lead := &model.Lead{ID: "L1", Phone: "+5511987654321", LastInboundAt: tt.last}

			res, err := m.Send(context.Background(), lead, tt.out, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if len(sender.sent) != 0 {
					t.Errorf("nothing should be sent, got %v", sender.sent)
				}
				return
			}
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if diff := cmp.Diff(tt.wantMode, res.Mode); diff != "" {
				t.Errorf("mode mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSent, sender.sent); diff != "" {
				t.Errorf("sent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMessengerSendRequiresPhone(t *testing.T) {
	m, _, _ := newTestMessenger(t)
	_, err := m.Send(context.Background(), &model.Lead{ID: "L1"}, Outgoing{TemplateID: "x"}, time.Now())
	if !errors.Is(err, ErrNoPhone) {
		t.Errorf("expected ErrNoPhone, got %v", err)
	}
}

func TestMessengerSendProviderFailure(t *testing.T) {
	m, sender, store := newTestMessenger(t)
	sender.err = errors.New("boom")
	ctx := context.Background()

	lead := &model.Lead{ID: "L1", Phone: "+5511987654321"}
	if err := store.UpsertLead(ctx, lead); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := m.Send(ctx, lead, Outgoing{TemplateID: "tpl"}, time.Now()); err == nil {
		t.Fatal("expected provider error")
	}
	msgs, _ := store.ListMessages(ctx, "L1", 10)
	if len(msgs) != 0 {
		t.Errorf("failed sends must not be recorded, got %d", len(msgs))
	}
}

func TestMessengerReceiveOpensWindow(t *testing.T) {
	m, _, store := newTestMessenger(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	lead, err := m.Receive(ctx, Inbound{MessageID: "w1", Phone: "5511987654321", Name: "Maria", Text: "oi", At: at})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if diff := cmp.Diff("+5511987654321", lead.Phone); diff != "" {
		t.Errorf("phone mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Maria", lead.Name); diff != "" {
		t.Errorf("name mismatch (-want +got):\n%s", diff)
	}
	if lead.LastInboundAt == nil || !lead.LastInboundAt.Equal(at) {
		t.Fatalf("LastInboundAt = %v, want %v", lead.LastInboundAt, at)
	}

	st := m.Engine().Compute(lead.LastInboundAt, at.Add(time.Hour))
	if !st.IsOpen {
		t.Error("inbound message should open the window")
	}

	// Second message from the same number reuses the lead; redelivery is harmless.
	later := at.Add(2 * time.Hour)
	again, err := m.Receive(ctx, Inbound{MessageID: "w2", Phone: "+55 11 98765-4321", Text: "tudo bem?", At: later})
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if diff := cmp.Diff(lead.ID, again.ID); diff != "" {
		t.Errorf("lead id mismatch (-want +got):\n%s", diff)
	}
	if _, err := m.Receive(ctx, Inbound{MessageID: "w2", Phone: "5511987654321", Text: "tudo bem?", At: later}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	msgs, err := store.ListMessages(ctx, lead.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if diff := cmp.Diff(2, len(msgs)); diff != "" {
		t.Errorf("message count mismatch (-want +got):\n%s", diff)
	}
}

func TestMessengerReceiveInvalidPhone(t *testing.T) {
	m, _, _ := newTestMessenger(t)
	if _, err := m.Receive(context.Background(), Inbound{Phone: "12"}); err == nil {
		t.Error("expected error for invalid phone")
	}
}
