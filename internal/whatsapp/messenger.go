package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"scouter/internal/ingest"
	"scouter/internal/model"
	"scouter/internal/storage"
	"scouter/internal/window"
)

// Messaging errors.
var (
	ErrWindowClosed = errors.New("messaging window closed: a template is required")
	ErrEmptyMessage = errors.New("message has neither text nor template")
	ErrNoPhone      = errors.New("lead has no phone number")
)

// Sender delivers messages to WhatsApp.
type Sender interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	SendTemplate(ctx context.Context, phone, templateID string, params []string) (string, error)
}

// Store is the subset of storage used for messaging.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error)
	UpsertLead(ctx context.Context, lead *model.Lead) error
	RecordMessage(ctx context.Context, msg *model.Message) error
}

// Outgoing is a message an operator wants to send. Text is used while the
// window is open; TemplateID is required once it has closed.
type Outgoing struct {
	Text       string
	TemplateID string
	Params     []string
}

// Result describes what was actually sent.
type Result struct {
	Mode       window.Mode
	ProviderID string
	Status     window.Status
}

// Messenger gates outbound messages on the lead's window and records
// both directions of the conversation.
type Messenger struct {
	store   Store
	sender  Sender
	engine  window.Engine
	limiter *rate.Limiter
	region  string
	log     *slog.Logger
}

// NewMessenger creates a Messenger. Sends are limited to about 20 per second.
func NewMessenger(store Store, sender Sender, engine window.Engine, region string, log *slog.Logger) *Messenger {
	return &Messenger{
		store:   store,
		sender:  sender,
		engine:  engine,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 5),
		region:  region,
		log:     log,
	}
}

// Engine returns the window engine used for gating.
func (m *Messenger) Engine() window.Engine { return m.engine }

// Send delivers out to lead, choosing free-form or template by the window
// state at now.
func (m *Messenger) Send(ctx context.Context, lead *model.Lead, out Outgoing, now time.Time) (Result, error) {
	if lead.Phone == "" {
		return Result{}, ErrNoPhone
	}
	st := m.engine.Compute(lead.LastInboundAt, now)
	res := Result{Status: st}

	var kind model.MessageKind
	var body string
	switch {
	case st.IsOpen && out.Text != "":
		res.Mode, kind, body = window.ModeFreeForm, model.KindText, out.Text
	case out.TemplateID != "":
		res.Mode, kind, body = window.ModeTemplate, model.KindTemplate, out.TemplateID
	case out.Text != "":
		return res, ErrWindowClosed
	default:
		return res, ErrEmptyMessage
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return res, fmt.Errorf("rate limit: %w", err)
	}

	var err error
	if kind == model.KindText {
		res.ProviderID, err = m.sender.SendText(ctx, lead.Phone, out.Text)
	} else {
		res.ProviderID, err = m.sender.SendTemplate(ctx, lead.Phone, out.TemplateID, out.Params)
	}
	if err != nil {
		return res, fmt.Errorf("send %s: %w", res.Mode, err)
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		LeadID:     lead.ID,
		Direction:  model.Outbound,
		Kind:       kind,
		Body:       body,
		ProviderID: res.ProviderID,
		CreatedAt:  now,
	}
	if err := m.store.RecordMessage(ctx, msg); err != nil {
		m.log.Error("record outbound message", "lead_id", lead.ID, "error", err)
	}

	m.log.Info("message sent", "lead_id", lead.ID, "mode", res.Mode, "provider_id", res.ProviderID)
	return res, nil
}

// Receive records a customer message, creating the lead on first contact.
// The returned lead carries the updated LastInboundAt.
func (m *Messenger) Receive(ctx context.Context, in Inbound) (*model.Lead, error) {
	phone, err := ingest.NormalizePhone(in.Phone, m.region)
	if err != nil {
		return nil, fmt.Errorf("normalize sender: %w", err)
	}

	lead, err := m.store.GetLeadByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		lead = &model.Lead{ID: uuid.NewString(), Name: in.Name, Phone: phone}
		if err := m.store.UpsertLead(ctx, lead); err != nil {
			return nil, fmt.Errorf("create lead: %w", err)
		}
		m.log.Info("lead created from inbound message", "lead_id", lead.ID, "phone", phone)
	} else if err != nil {
		return nil, fmt.Errorf("find lead: %w", err)
	}

	id := in.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	msg := &model.Message{
		ID:         id,
		LeadID:     lead.ID,
		Direction:  model.Inbound,
		Kind:       model.KindText,
		Body:       in.Text,
		ProviderID: in.MessageID,
		CreatedAt:  in.At,
	}
	if err := m.store.RecordMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record inbound message: %w", err)
	}

	updated, err := m.store.GetLead(ctx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("reload lead: %w", err)
	}
	return updated, nil
}
