package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"scouter/internal/model"
	"scouter/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const leadColumns = `id, name, phone, project, scouter, stage, confirmed, age, value, lat, lng, last_inbound_at, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the applied migration version.
func (s *SQLite) SchemaVersion() (int64, error) {
	return migrations.Version(s.db)
}

// UpsertLead inserts a lead or merges it into the stored one. Empty text
// fields, a nil confirmation and missing coordinates keep the stored values.
// The inbound timestamp is owned by RecordMessage and never overwritten here.
func (s *SQLite) UpsertLead(ctx context.Context, lead *model.Lead) error {
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	created := lead.CreatedAt.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, phone, project, scouter, stage, confirmed, age, value, lat, lng, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = COALESCE(NULLIF(excluded.name, ''), leads.name),
		   phone = COALESCE(NULLIF(excluded.phone, ''), leads.phone),
		   project = COALESCE(NULLIF(excluded.project, ''), leads.project),
		   scouter = COALESCE(NULLIF(excluded.scouter, ''), leads.scouter),
		   stage = COALESCE(NULLIF(excluded.stage, ''), leads.stage),
		   confirmed = COALESCE(excluded.confirmed, leads.confirmed),
		   age = COALESCE(NULLIF(excluded.age, ''), leads.age),
		   value = COALESCE(NULLIF(excluded.value, ''), leads.value),
		   lat = CASE WHEN excluded.lat IS NULL OR excluded.lng IS NULL THEN leads.lat ELSE excluded.lat END,
		   lng = CASE WHEN excluded.lat IS NULL OR excluded.lng IS NULL THEN leads.lng ELSE excluded.lng END`,
		lead.ID, lead.Name, lead.Phone, lead.Project, lead.Scouter, lead.Stage,
		nullBool(lead.Confirmed), lead.Age, lead.Value, nullFloat(lead.Lat), nullFloat(lead.Lng), created,
	)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	lead.CreatedAt, _ = time.Parse(timeLayout, created)
	return nil
}

// GetLead returns a single lead by its ID.
func (s *SQLite) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	return scanLead(row)
}

// GetLeadByPhone returns the lead with the given E.164 phone number.
func (s *SQLite) GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE phone = ? ORDER BY created_at LIMIT 1`, phone)
	return scanLead(row)
}

// ListLeads returns the most recently created leads.
func (s *SQLite) ListLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLeads(rows)
}

// ListGeotaggedLeads returns every lead that has both coordinates.
func (s *SQLite) ListGeotaggedLeads(ctx context.Context) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE lat IS NOT NULL AND lng IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query geotagged leads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLeads(rows)
}

// SearchLeads matches the query against name, phone, project and scouter.
func (s *SQLite) SearchLeads(ctx context.Context, query string, limit int) ([]model.Lead, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE lower(name) LIKE ? OR phone LIKE ? OR lower(project) LIKE ? OR lower(scouter) LIKE ?
		 ORDER BY name, id LIMIT ?`,
		like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search leads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLeads(rows)
}

// ListLeadsInboundSince returns leads whose last inbound message is at or after since.
func (s *SQLite) ListLeadsInboundSince(ctx context.Context, since time.Time) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE last_inbound_at IS NOT NULL AND last_inbound_at >= ?
		 ORDER BY last_inbound_at`,
		since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query inbound leads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLeads(rows)
}

// RecordMessage stores a message; redelivered IDs are ignored. Inbound
// messages move the lead's last_inbound_at forward, which reopens its
// messaging window.
func (s *SQLite) RecordMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	created := msg.CreatedAt.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, lead_id, direction, kind, body, provider_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.LeadID, string(msg.Direction), string(msg.Kind), msg.Body, msg.ProviderID, created,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if msg.Direction == model.Inbound {
		if _, err := tx.ExecContext(ctx,
			`UPDATE leads SET last_inbound_at = ?
			 WHERE id = ? AND (last_inbound_at IS NULL OR last_inbound_at < ?)`,
			created, msg.LeadID, created,
		); err != nil {
			return fmt.Errorf("update last inbound: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	msg.CreatedAt, _ = time.Parse(timeLayout, created)
	return nil
}

// ListMessages returns the latest messages of a lead, oldest first.
func (s *SQLite) ListMessages(ctx context.Context, leadID string, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, direction, kind, body, provider_id, created_at FROM (
		   SELECT * FROM messages WHERE lead_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		 ) ORDER BY created_at, id`,
		leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var dir, kind, created string
		if err := rows.Scan(&m.ID, &m.LeadID, &dir, &kind, &m.Body, &m.ProviderID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Direction = model.Direction(dir)
		m.Kind = model.MessageKind(kind)
		m.CreatedAt, _ = time.Parse(timeLayout, created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CreateArea inserts a new area and populates its CreatedAt.
func (s *SQLite) CreateArea(ctx context.Context, area *model.Area) error {
	vertices, err := json.Marshal(area.Vertices)
	if err != nil {
		return fmt.Errorf("encode vertices: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO areas (id, owner, name, kind, vertices, south, west, north, east, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		area.ID, area.Owner, area.Name, string(area.Kind), string(vertices),
		area.South, area.West, area.North, area.East, now,
	)
	if err != nil {
		return fmt.Errorf("insert area: %w", err)
	}
	area.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetArea returns a single area by its ID.
func (s *SQLite) GetArea(ctx context.Context, id string) (*model.Area, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, kind, vertices, south, west, north, east, created_at
		 FROM areas WHERE id = ?`, id)
	return scanArea(row)
}

// ListAreas returns all areas belonging to owner.
func (s *SQLite) ListAreas(ctx context.Context, owner string) ([]model.Area, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, kind, vertices, south, west, north, east, created_at
		 FROM areas WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var areas []model.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, *a)
	}
	return areas, rows.Err()
}

// DeleteArea removes an area by its ID.
func (s *SQLite) DeleteArea(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM areas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete area: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAreas removes every area of owner and returns how many were removed.
func (s *SQLite) DeleteAreas(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM areas WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete areas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// MarkAlerted records that an expiry alert was sent for this inbound message.
func (s *SQLite) MarkAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO window_alerts (lead_id, last_inbound_at) VALUES (?, ?)`,
		leadID, lastInboundAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark alerted: %w", err)
	}
	return nil
}

// WasAlerted checks whether an expiry alert was already sent.
func (s *SQLite) WasAlerted(ctx context.Context, leadID string, lastInboundAt time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM window_alerts WHERE lead_id = ? AND last_inbound_at = ?`,
		leadID, lastInboundAt.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check alerted: %w", err)
	}
	return count > 0, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var confirmed sql.NullInt64
	var lat, lng sql.NullFloat64
	var lastInbound sql.NullString
	var created string
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.Project, &l.Scouter, &l.Stage,
		&confirmed, &l.Age, &l.Value, &lat, &lng, &lastInbound, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	if confirmed.Valid {
		c := confirmed.Int64 == 1
		l.Confirmed = &c
	}
	if lat.Valid && lng.Valid {
		la, ln := lat.Float64, lng.Float64
		l.Lat, l.Lng = &la, &ln
	}
	if lastInbound.Valid {
		t, _ := time.Parse(timeLayout, lastInbound.String)
		l.LastInboundAt = &t
	}
	l.CreatedAt, _ = time.Parse(timeLayout, created)
	return &l, nil
}

func scanLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

func scanArea(row scannable) (*model.Area, error) {
	var a model.Area
	var kind, vertices, created string
	err := row.Scan(&a.ID, &a.Owner, &a.Name, &kind, &vertices, &a.South, &a.West, &a.North, &a.East, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan area: %w", err)
	}
	a.Kind = model.AreaKind(kind)
	if err := json.Unmarshal([]byte(vertices), &a.Vertices); err != nil {
		return nil, fmt.Errorf("decode vertices: %w", err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}
