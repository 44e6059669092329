package bot

import (
	"fmt"
	"strings"
	"time"

	"scouter/internal/analysis"
	"scouter/internal/geo"
	"scouter/internal/model"
	"scouter/internal/whatsapp"
	"scouter/internal/window"
)

const (
	timeFormat    = "2006-01-02 15:04 UTC"
	maxHeatCells  = 10
	maxGroupLines = 5
)

// FormatLeadList formats leads with their current window state.
func FormatLeadList(leads []model.Lead, engine window.Engine, now time.Time) string {
	if len(leads) == 0 {
		return "No leads yet. Import them through POST /leads/import."
	}
	var b strings.Builder
	b.WriteString("Leads:\n")
	for _, l := range leads {
		st := engine.Compute(l.LastInboundAt, now)
		fmt.Fprintf(&b, "\n%s %s", l.ID, displayName(l))
		if l.Phone != "" {
			fmt.Fprintf(&b, " (%s)", l.Phone)
		}
		fmt.Fprintf(&b, " [%s]", windowLabel(st))
	}
	return b.String()
}

// FormatLeadInfo formats a lead's details, window and recent messages.
func FormatLeadInfo(l *model.Lead, st window.Status, msgs []model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead %s: %s\n", l.ID, displayName(*l))
	writeField(&b, "Phone", l.Phone)
	writeField(&b, "Project", l.Project)
	writeField(&b, "Scouter", l.Scouter)
	writeField(&b, "Stage", l.Stage)
	writeField(&b, "Age", l.Age)
	writeField(&b, "Value", l.Value)
	fmt.Fprintf(&b, "Confirmed: %s\n", confirmedLabel(l.Confirmed))
	if l.HasLocation() {
		fmt.Fprintf(&b, "Location: %.6f, %.6f\n", *l.Lat, *l.Lng)
	}
	fmt.Fprintf(&b, "Window: %s\n", windowLabel(st))
	if st.LastInboundAt != nil {
		fmt.Fprintf(&b, "Last inbound: %s\n", st.LastInboundAt.UTC().Format(timeFormat))
	}

	if len(msgs) > 0 {
		b.WriteString("\nRecent messages:\n")
		for _, m := range msgs {
			arrow := ">"
			if m.Direction == model.Inbound {
				arrow = "<"
			}
			body := m.Body
			if m.Kind == model.KindTemplate {
				body = "template " + body
			}
			fmt.Fprintf(&b, "%s %s %s\n", arrow, m.CreatedAt.UTC().Format("01-02 15:04"), body)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatWindowStatus explains what kind of message can be sent to a lead.
func FormatWindowStatus(l *model.Lead, st window.Status) string {
	if st.IsOpen {
		return fmt.Sprintf("Lead %s (%s): window open, %s left.\nFree-form messages allowed (/send).",
			l.ID, displayName(*l), window.FormatRemaining(st))
	}
	if st.LastInboundAt == nil {
		return fmt.Sprintf("Lead %s (%s): never wrote to us. Only templates can be sent (/template).",
			l.ID, displayName(*l))
	}
	return fmt.Sprintf("Lead %s (%s): window closed since the last message on %s.\nOnly templates can be sent (/template).",
		l.ID, displayName(*l), st.LastInboundAt.UTC().Format(timeFormat))
}

// FormatSendResult confirms a WhatsApp send.
func FormatSendResult(l *model.Lead, res whatsapp.Result) string {
	kind := "Message"
	if res.Mode == window.ModeTemplate {
		kind = "Template"
	}
	s := fmt.Sprintf("%s sent to %s (%s).", kind, displayName(*l), l.Phone)
	if res.ProviderID != "" {
		s += "\nProvider ID: " + res.ProviderID
	}
	return s
}

// FormatExpiryAlert warns that a lead's window is about to close.
func FormatExpiryAlert(l model.Lead, st window.Status) string {
	return fmt.Sprintf("Window closing: %s %s (%s) has %s left to receive free-form messages.\nUse /send %s <text> before it closes.",
		l.ID, displayName(l), l.Phone, window.FormatRemaining(st), l.ID)
}

// FormatPreview formats the live feedback of an area being drawn.
func FormatPreview(p geo.Preview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vertices: %d\n", p.Vertices)
	switch {
	case p.Vertices == 0:
		b.WriteString("Send a location to add the first vertex.")
		return b.String()
	case p.Exact:
		fmt.Fprintf(&b, "Leads inside: %d\n", len(p.Candidates))
	default:
		fmt.Fprintf(&b, "Leads in bounding box: %d (approximate)\n", len(p.Candidates))
	}
	if len(p.Heat) > 0 {
		top := p.Heat[0]
		fmt.Fprintf(&b, "Busiest spot: %.4f, %.4f (%d)\n", top.Lat, top.Lng, top.Value)
	}
	if p.Vertices < 3 {
		fmt.Fprintf(&b, "Add %d more location(s), then /finish.", 3-p.Vertices)
	} else {
		b.WriteString("/finish to save, /undo to drop the last vertex, /cancel to discard.")
	}
	return b.String()
}

// FormatAreaList formats saved areas.
func FormatAreaList(areas []model.Area) string {
	if len(areas) == 0 {
		return "No saved areas. Use /draw or /rect to create one."
	}
	var b strings.Builder
	b.WriteString("Your areas:\n")
	for _, a := range areas {
		fmt.Fprintf(&b, "\n%s %s [%s, %d vertices]", a.ID, areaName(a), a.Kind, len(a.Vertices))
	}
	return b.String()
}

// FormatAreaSummary formats the analysis of the leads inside an area.
func FormatAreaSummary(a model.Area, s analysis.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Area %s %s [%s]\n", a.ID, areaName(a), a.Kind)
	fmt.Fprintf(&b, "Bounds: %.5f, %.5f to %.5f, %.5f\n", a.South, a.West, a.North, a.East)
	fmt.Fprintf(&b, "Leads: %d\n", s.Total)
	if s.Total == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	writeGroup(&b, "Projects", s.ByProject)
	writeGroup(&b, "Scouters", s.ByScouter)
	writeGroup(&b, "Stages", s.ByStage)
	writeGroup(&b, "Confirmation", s.ByConfirmation)

	if s.AgeSamples > 0 {
		fmt.Fprintf(&b, "\nAverage age: %.1f (%d samples)", s.AgeAverage, s.AgeSamples)
	}
	if s.ValueSamples > 0 {
		fmt.Fprintf(&b, "\nValue: R$ %.2f total, R$ %.2f average (%d samples)", s.ValueTotal, s.ValueAverage, s.ValueSamples)
	}
	b.WriteString("\n\nCSV: GET /areas/" + a.ID + "/leads.csv")
	return b.String()
}

// FormatHeat lists the densest cells of an area.
func FormatHeat(a model.Area, points []geo.HeatPoint) string {
	if len(points) == 0 {
		return fmt.Sprintf("Area %s has no geotagged leads.", a.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Lead density in %s %s:\n", a.ID, areaName(a))
	for i, p := range points {
		if i == maxHeatCells {
			fmt.Fprintf(&b, "\n... and %d more cells", len(points)-maxHeatCells)
			break
		}
		fmt.Fprintf(&b, "\n%2d. %.4f, %.4f  %d lead(s) %s", i+1, p.Lat, p.Lng, p.Value, bar(p.Intensity))
	}
	return b.String()
}

func writeGroup(b *strings.Builder, title string, counts map[string]int) {
	fmt.Fprintf(b, "\n%s:\n", title)
	for i, bucket := range analysis.Buckets(counts) {
		if i == maxGroupLines {
			fmt.Fprintf(b, "  ... %d more\n", len(counts)-maxGroupLines)
			break
		}
		fmt.Fprintf(b, "  %s: %d\n", bucket.Key, bucket.Count)
	}
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func windowLabel(st window.Status) string {
	if st.IsOpen {
		return "open, " + window.FormatRemaining(st) + " left"
	}
	return "closed"
}

func confirmedLabel(c *bool) string {
	switch {
	case c == nil:
		return "unknown"
	case *c:
		return "yes"
	default:
		return "no"
	}
}

func displayName(l model.Lead) string {
	if l.Name == "" {
		return "(no name)"
	}
	return l.Name
}

func areaName(a model.Area) string {
	if a.Name == "" {
		return "(unnamed)"
	}
	return fmt.Sprintf("%q", a.Name)
}

func bar(intensity float64) string {
	n := int(intensity*10 + 0.5)
	return strings.Repeat("#", max(n, 1))
}
