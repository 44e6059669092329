// Package scheduler warns operators before a lead's messaging window closes.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"scouter/internal/bot"
	"scouter/internal/model"
	"scouter/internal/window"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Store is the subset of storage the scheduler needs.
type Store interface {
	ListLeadsInboundSince(ctx context.Context, since time.Time) ([]model.Lead, error)
	WasAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) (bool, error)
	MarkAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) error
}

// Scheduler periodically looks for windows about to expire and alerts the
// configured chats once per inbound message.
type Scheduler struct {
	store   Store
	sender  Sender
	engine  window.Engine
	warning time.Duration
	chatIDs []int64
	limiter *rate.Limiter
	now     func() time.Time
	log     *slog.Logger
	tick    time.Duration
}

// New creates a Scheduler. Alerts fire when less than warning remains.
func New(store Store, sender Sender, engine window.Engine, warning time.Duration, chatIDs []int64, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		sender:  sender,
		engine:  engine,
		warning: warning,
		chatIDs: chatIDs,
		// ~20 messages/sec max for Telegram
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		now:     time.Now,
		log:     log,
		tick:    1 * time.Minute,
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.chatIDs) == 0 {
		s.log.Info("no alert chats configured, expiry alerts disabled")
		return
	}

	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	now := s.now()
	leads, err := s.store.ListLeadsInboundSince(ctx, now.Add(-s.engine.Duration()))
	if err != nil {
		s.log.Error("list open windows", "error", err)
		return
	}

	sent := 0
	for _, lead := range leads {
		if ctx.Err() != nil {
			return
		}
		st := s.engine.Compute(lead.LastInboundAt, now)
		if !window.ExpiresWithin(st, s.warning) {
			continue
		}
		if s.alert(ctx, lead, st) {
			sent++
		}
	}

	if sent > 0 {
		s.log.Info("sent expiry alerts", "count", sent)
	}
}

func (s *Scheduler) alert(ctx context.Context, lead model.Lead, st window.Status) bool {
	last := *st.LastInboundAt
	seen, err := s.store.WasAlerted(ctx, lead.ID, last)
	if err != nil {
		s.log.Error("check alerted", "lead_id", lead.ID, "error", err)
		return false
	}
	if seen {
		return false
	}

	msg := bot.FormatExpiryAlert(lead, st)
	for _, chatID := range s.chatIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return false
		}
		s.sender.SendMessage(chatID, msg)
	}

	if err := s.store.MarkAlerted(ctx, lead.ID, last); err != nil {
		s.log.Error("mark alerted", "lead_id", lead.ID, "error", err)
	}
	return true
}
