package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"scouter/internal/geo"
)

const (
	defaultLeadLimit = 10
	maxLeadLimit     = 50
)

// ParseIDArg extracts the first word of a command argument string as an ID.
func ParseIDArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("ID is required")
	}
	return fields[0], nil
}

// ParseLimitArg parses the optional count of /leads.
func ParseLimitArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return defaultLeadLimit, nil
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 1 || n > maxLeadLimit {
		return 0, fmt.Errorf("count must be between 1 and %d", maxLeadLimit)
	}
	return n, nil
}

// ParseSendArgs splits "/send <lead_id> <text>".
func ParseSendArgs(args string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("usage: /send <lead_id> <text>")
	}
	return parts[0], strings.TrimSpace(parts[1]), nil
}

// TemplateArgs holds the parsed arguments of /template.
type TemplateArgs struct {
	LeadID     string
	TemplateID string
	Params     []string
}

// ParseTemplateArgs parses "<lead_id> <template_id> [params...]". Params are
// separated by "|" so they may contain spaces.
func ParseTemplateArgs(args string) (TemplateArgs, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return TemplateArgs{}, fmt.Errorf("usage: /template <lead_id> <template_id> [param1 | param2 ...]")
	}
	out := TemplateArgs{LeadID: fields[0], TemplateID: fields[1]}
	rest := strings.TrimSpace(strings.Join(fields[2:], " "))
	if rest == "" {
		return out, nil
	}
	for _, p := range strings.Split(rest, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out.Params = append(out.Params, p)
		}
	}
	return out, nil
}

// ParseRectArgs parses "<south> <west> <north> <east>" in decimal degrees.
func ParseRectArgs(args string) (geo.Bounds, error) {
	fields := strings.Fields(strings.ReplaceAll(args, ",", " "))
	if len(fields) != 4 {
		return geo.Bounds{}, fmt.Errorf("usage: /rect <south> <west> <north> <east>")
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return geo.Bounds{}, fmt.Errorf("invalid coordinate %q", f)
		}
		v[i] = n
	}
	b := geo.Bounds{South: v[0], West: v[1], North: v[2], East: v[3]}
	switch {
	case b.South < -90 || b.North > 90:
		return geo.Bounds{}, fmt.Errorf("latitude must be between -90 and 90")
	case b.West < -180 || b.East > 180:
		return geo.Bounds{}, fmt.Errorf("longitude must be between -180 and 180")
	case b.South >= b.North || b.West >= b.East:
		return geo.Bounds{}, fmt.Errorf("south must be below north and west left of east")
	}
	return b, nil
}
