// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"scouter/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error)
	ListLeads(ctx context.Context, limit int) ([]model.Lead, error)
	ListGeotaggedLeads(ctx context.Context) ([]model.Lead, error)
	SearchLeads(ctx context.Context, query string, limit int) ([]model.Lead, error)
	ListLeadsInboundSince(ctx context.Context, since time.Time) ([]model.Lead, error)

	RecordMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, leadID string, limit int) ([]model.Message, error)

	CreateArea(ctx context.Context, area *model.Area) error
	GetArea(ctx context.Context, id string) (*model.Area, error)
	ListAreas(ctx context.Context, owner string) ([]model.Area, error)
	DeleteArea(ctx context.Context, id string) error
	DeleteAreas(ctx context.Context, owner string) (int64, error)

	MarkAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) error
	WasAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) (bool, error)

	Close() error
}
