package server

import (
	"time"

	"scouter/internal/geo"
	"scouter/internal/model"
	"scouter/internal/window"
)

type windowJSON struct {
	LastInboundAt    *time.Time  `json:"last_inbound_at"`
	IsOpen           bool        `json:"is_open"`
	RemainingSeconds int         `json:"remaining_seconds"`
	Remaining        string      `json:"remaining"`
	Mode             window.Mode `json:"mode"`
	ClosesAt         *time.Time  `json:"closes_at,omitempty"`
}

type leadJSON struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Project   string     `json:"project"`
	Scouter   string     `json:"scouter"`
	Stage     string     `json:"stage"`
	Confirmed *bool      `json:"confirmed"`
	Age       string     `json:"age"`
	Value     string     `json:"value"`
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Window    windowJSON `json:"window"`
	CreatedAt time.Time  `json:"created_at"`
}

type areaJSON struct {
	ID        string             `json:"id"`
	Owner     string             `json:"owner"`
	Name      string             `json:"name"`
	Kind      model.AreaKind     `json:"kind"`
	Vertices  []model.Coordinate `json:"vertices"`
	Bounds    geo.Bounds         `json:"bounds"`
	CreatedAt time.Time          `json:"created_at"`
}

type areaRequest struct {
	Owner    string             `json:"owner"`
	Name     string             `json:"name"`
	Kind     model.AreaKind     `json:"kind"`
	Vertices []model.Coordinate `json:"vertices"`
	Bounds   *geo.Bounds        `json:"bounds"`
}

type messageRequest struct {
	Text       string   `json:"text"`
	TemplateID string   `json:"template_id"`
	Params     []string `json:"params"`
}

type previewRequest struct {
	Vertices []model.Coordinate `json:"vertices"`
}

type previewJSON struct {
	Vertices int             `json:"vertices"`
	Bounds   geo.Bounds      `json:"bounds"`
	Exact    bool            `json:"exact"`
	Count    int             `json:"count"`
	LeadIDs  []string        `json:"lead_ids"`
	Heat     []geo.HeatPoint `json:"heat"`
}

type rejectedJSON struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (s *Server) windowView(last *time.Time, now time.Time) windowJSON {
	st := s.engine.Compute(last, now)
	out := windowJSON{
		LastInboundAt:    st.LastInboundAt,
		IsOpen:           st.IsOpen,
		RemainingSeconds: st.RemainingSeconds(),
		Remaining:        window.FormatRemaining(st),
		Mode:             window.ModeFor(st),
	}
	if last != nil {
		closes := s.engine.ClosesAt(last).UTC()
		out.ClosesAt = &closes
	}
	return out
}

func (s *Server) leadView(l model.Lead, now time.Time) leadJSON {
	return leadJSON{
		ID:        l.ID,
		Name:      l.Name,
		Phone:     l.Phone,
		Project:   l.Project,
		Scouter:   l.Scouter,
		Stage:     l.Stage,
		Confirmed: l.Confirmed,
		Age:       l.Age,
		Value:     l.Value,
		Lat:       l.Lat,
		Lng:       l.Lng,
		Window:    s.windowView(l.LastInboundAt, now),
		CreatedAt: l.CreatedAt,
	}
}

func (s *Server) leadViews(leads []model.Lead) []leadJSON {
	now := s.now()
	out := make([]leadJSON, 0, len(leads))
	for _, l := range leads {
		out = append(out, s.leadView(l, now))
	}
	return out
}

func areaView(a model.Area) areaJSON {
	return areaJSON{
		ID:        a.ID,
		Owner:     a.Owner,
		Name:      a.Name,
		Kind:      a.Kind,
		Vertices:  a.Vertices,
		Bounds:    geo.Bounds{South: a.South, West: a.West, North: a.North, East: a.East},
		CreatedAt: a.CreatedAt,
	}
}
