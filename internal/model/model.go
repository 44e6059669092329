// Package model defines the domain types used across the application.
package model

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead is a prospect captured by a scouter.
type Lead struct {
	ID        string
	Name      string
	Phone     string
	Project   string
	Scouter   string
	Stage     string
	Confirmed *bool
	// Age and Value are kept as captured; analysis parses them defensively.
	Age           string
	Value         string
	Lat           *float64
	Lng           *float64
	LastInboundAt *time.Time
	CreatedAt     time.Time
}

// HasLocation reports whether the lead carries a usable geotag.
func (l Lead) HasLocation() bool {
	if l.Lat == nil || l.Lng == nil {
		return false
	}
	return isFinite(*l.Lat) && isFinite(*l.Lng)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Direction tells who originated a WhatsApp message.
type Direction string

// Supported directions.
const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// MessageKind distinguishes free-form text from pre-approved templates.
type MessageKind string

// Supported message kinds.
const (
	KindText     MessageKind = "text"
	KindTemplate MessageKind = "template"
)

// Message is a WhatsApp message exchanged with a lead.
type Message struct {
	ID         string
	LeadID     string
	Direction  Direction
	Kind       MessageKind
	Body       string
	ProviderID string
	CreatedAt  time.Time
}

// AreaKind is the shape an operator drew.
type AreaKind string

// Supported area kinds.
const (
	AreaPolygon   AreaKind = "polygon"
	AreaRectangle AreaKind = "rectangle"
)

// Coordinate is a single lat/lng pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Area is a saved map selection.
type Area struct {
	ID       string
	Owner    string
	Name     string
	Kind     AreaKind
	Vertices []Coordinate
	South    float64
	West     float64
	North    float64
	East     float64
	// CreatedAt is set by storage.
	CreatedAt time.Time
}

// NewAreaID returns a short random ID that is easy to type in chat commands.
func NewAreaID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
