package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"scouter/internal/analysis"
	"scouter/internal/geo"
	"scouter/internal/storage"
	"scouter/internal/window"
)

// Tool names.
const (
	toolWindowStatus = "window_status"
	toolAreaSummary  = "area_summary"
	toolFindLeads    = "find_leads"
)

var tools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolWindowStatus,
			Description: "WhatsApp window state of a lead: open or closed and the time left.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"lead_id":{"type":"string"}},"required":["lead_id"]}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolAreaSummary,
			Description: "Leads inside a saved map area, grouped by project, scouter, stage and confirmation.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"area_id":{"type":"string"}},"required":["area_id"]}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolFindLeads,
			Description: "Search leads by name, phone, project or scouter.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
	},
}

type toolArgs struct {
	LeadID string `json:"lead_id"`
	AreaID string `json:"area_id"`
	Query  string `json:"query"`
}

type windowResult struct {
	LeadID           string     `json:"lead_id"`
	Name             string     `json:"name"`
	IsOpen           bool       `json:"is_open"`
	Remaining        string     `json:"remaining"`
	RemainingSeconds int        `json:"remaining_seconds"`
	LastInboundAt    *time.Time `json:"last_inbound_at"`
	Mode             string     `json:"mode"`
}

type areaResult struct {
	AreaID  string           `json:"area_id"`
	Name    string           `json:"name"`
	Kind    string           `json:"kind"`
	Summary analysis.Summary `json:"summary"`
}

type leadResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Project string `json:"project"`
	Scouter string `json:"scouter"`
	Stage   string `json:"stage"`
}

// runTool executes a tool call. Failures are reported to the model as a
// JSON error object so it can recover.
func (a *Assistant) runTool(ctx context.Context, name, rawArgs string) string {
	var args toolArgs
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
	}

	var (
		out any
		err error
	)
	switch name {
	case toolWindowStatus:
		out, err = a.windowStatus(ctx, args.LeadID)
	case toolAreaSummary:
		out, err = a.areaSummary(ctx, args.AreaID)
	case toolFindLeads:
		out, err = a.findLeads(ctx, args.Query)
	default:
		err = fmt.Errorf("unknown tool %q", name)
	}
	if err != nil {
		a.log.Warn("assistant tool failed", "tool", name, "error", err)
		return toolError(err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return toolError(err)
	}
	return string(data)
}

func (a *Assistant) windowStatus(ctx context.Context, leadID string) (windowResult, error) {
	lead, err := a.store.GetLead(ctx, leadID)
	if err != nil {
		return windowResult{}, lookupError("lead", leadID, err)
	}
	st := a.engine.Compute(lead.LastInboundAt, a.now())
	return windowResult{
		LeadID:           lead.ID,
		Name:             lead.Name,
		IsOpen:           st.IsOpen,
		Remaining:        window.FormatRemaining(st),
		RemainingSeconds: st.RemainingSeconds(),
		LastInboundAt:    st.LastInboundAt,
		Mode:             string(window.ModeFor(st)),
	}, nil
}

func (a *Assistant) areaSummary(ctx context.Context, areaID string) (areaResult, error) {
	stored, err := a.store.GetArea(ctx, areaID)
	if err != nil {
		return areaResult{}, lookupError("area", areaID, err)
	}
	leads, err := a.store.ListGeotaggedLeads(ctx)
	if err != nil {
		return areaResult{}, fmt.Errorf("list leads: %w", err)
	}
	sel := geo.Select(geo.FromModel(*stored), leads)
	return areaResult{
		AreaID:  stored.ID,
		Name:    stored.Name,
		Kind:    string(stored.Kind),
		Summary: analysis.Generate(sel.Matched),
	}, nil
}

func (a *Assistant) findLeads(ctx context.Context, query string) ([]leadResult, error) {
	leads, err := a.store.SearchLeads(ctx, query, findLimit)
	if err != nil {
		return nil, fmt.Errorf("search leads: %w", err)
	}
	out := make([]leadResult, 0, len(leads))
	for _, l := range leads {
		out = append(out, leadResult{
			ID: l.ID, Name: l.Name, Phone: l.Phone,
			Project: l.Project, Scouter: l.Scouter, Stage: l.Stage,
		})
	}
	return out, nil
}

func lookupError(kind, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %q not found", kind, id)
	}
	return fmt.Errorf("get %s: %w", kind, err)
}

func toolError(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
