// Package ingest maps raw lead records onto model.Lead.
//
// Upstream sources disagree on field names (lat/latitude, lng/longitude/lon,
// Portuguese and English business fields). Everything is reconciled here so
// the rest of the application sees a single schema.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"scouter/internal/model"
)

// DefaultRegion is used for phone numbers without a country code.
const DefaultRegion = "BR"

// Ingestion errors.
var (
	ErrEmptyRecord  = errors.New("record has neither name nor phone")
	ErrInvalidPhone = errors.New("invalid phone number")
)

var (
	latKeys       = []string{"lat", "latitude"}
	lngKeys       = []string{"lng", "longitude", "lon", "long"}
	nameKeys      = []string{"name", "nome"}
	phoneKeys     = []string{"phone", "telefone", "celular", "whatsapp"}
	projectKeys   = []string{"project", "projeto", "projetos"}
	scouterKeys   = []string{"scouter", "scouter_name"}
	stageKeys     = []string{"stage", "etapa", "status"}
	confirmedKeys = []string{"confirmed", "ficha_confirmada"}
	ageKeys       = []string{"age", "idade"}
	valueKeys     = []string{"value", "valor_ficha", "valor"}
)

// Normalize converts one raw record. Coordinates that are missing, not
// numeric, not finite or out of range are left nil.
func Normalize(record map[string]any, region string) (model.Lead, error) {
	if region == "" {
		region = DefaultRegion
	}

	l := model.Lead{
		ID:      text(record, "id"),
		Name:    text(record, nameKeys...),
		Project: text(record, projectKeys...),
		Scouter: text(record, scouterKeys...),
		Stage:   text(record, stageKeys...),
		Age:     text(record, ageKeys...),
		Value:   text(record, valueKeys...),
	}

	rawPhone := text(record, phoneKeys...)
	if l.Name == "" && rawPhone == "" {
		return model.Lead{}, ErrEmptyRecord
	}
	if rawPhone != "" {
		phone, err := NormalizePhone(rawPhone, region)
		if err != nil {
			return model.Lead{}, err
		}
		l.Phone = phone
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	if lat, ok := coordinate(record, latKeys, 90); ok {
		if lng, ok := coordinate(record, lngKeys, 180); ok {
			l.Lat = &lat
			l.Lng = &lng
		}
	}

	if c, ok := boolean(record, confirmedKeys...); ok {
		l.Confirmed = &c
	}
	return l, nil
}

// Rejected describes a record NormalizeAll could not use.
type Rejected struct {
	Index int
	Err   error
}

// NormalizeAll converts every usable record and reports the rest.
func NormalizeAll(records []map[string]any, region string) ([]model.Lead, []Rejected) {
	leads := make([]model.Lead, 0, len(records))
	var rejected []Rejected
	for i, r := range records {
		l, err := Normalize(r, region)
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, Err: err})
			continue
		}
		leads = append(leads, l)
	}
	return leads, rejected
}

// NormalizePhone formats a phone number as E.164.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if region == "" {
		region = DefaultRegion
	}
	// Providers send international numbers as bare digits.
	if !strings.HasPrefix(raw, "+") && len(digits(raw)) > 11 {
		raw = "+" + digits(raw)
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w %q", ErrInvalidPhone, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lookup(record map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := record[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func text(record map[string]any, keys ...string) string {
	v, ok := lookup(record, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func coordinate(record map[string]any, keys []string, limit float64) (float64, bool) {
	v, ok := lookup(record, keys...)
	if !ok {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > limit {
		return 0, false
	}
	return f, true
}

func boolean(record map[string]any, keys ...string) (bool, bool) {
	v, ok := lookup(record, keys...)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "sim", "s", "yes", "1":
			return true, true
		case "false", "não", "nao", "n", "no", "0":
			return false, true
		}
	}
	return false, false
}
