// Package sqlite persists fused violation events. The schema is created on
// open; the store is append-mostly and read by the status API.
package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/fuse"
	"github.com/sitewatch-data/compliance.report/internal/ppe/pipeline"
)

// Store wraps the violations database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the violations database at path.
// Use ":memory:" for an in-memory store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open violations db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS violation_events (
			event_id          TEXT PRIMARY KEY,
			occurred_at       TIMESTAMP,
			members           TEXT,
			missing_items     TEXT,
			match_confidence  DOUBLE,
			recorded_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_violation_events_occurred
			ON violation_events(occurred_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create violations schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordViolation implements pipeline.ViolationSink.
func (s *Store) RecordViolation(ev pipeline.ViolationEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO violation_events (event_id, occurred_at, members, missing_items, match_confidence)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID,
		ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		encodeMembers(ev.Members),
		strings.Join(ev.MissingItems, ","),
		ev.MatchConfidence,
	)
	if err != nil {
		return fmt.Errorf("record violation %s: %w", ev.ID, err)
	}
	return nil
}

// RecentViolations returns up to limit events, newest first.
func (s *Store) RecentViolations(limit int) ([]pipeline.ViolationEvent, error) {
	rows, err := s.db.Query(`
		SELECT event_id, occurred_at, members, missing_items, match_confidence
		FROM violation_events
		ORDER BY occurred_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var events []pipeline.ViolationEvent
	for rows.Next() {
		var ev pipeline.ViolationEvent
		var occurredAt, members, missing string
		if err := rows.Scan(&ev.ID, &occurredAt, &members, &missing, &ev.MatchConfidence); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		ev.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse violation timestamp %q: %w", occurredAt, err)
		}
		ev.Members = decodeMembers(members)
		if missing != "" {
			ev.MissingItems = strings.Split(missing, ",")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountSince returns the number of violation events at or after since.
func (s *Store) CountSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM violation_events WHERE occurred_at >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// encodeMembers flattens track refs to "cam:track" pairs joined by "|".
func encodeMembers(members []fuse.TrackRef) string {
	parts := make([]string, len(members))
	for i, ref := range members {
		parts[i] = fmt.Sprintf("%d:%d", ref.Camera, ref.TrackID)
	}
	return strings.Join(parts, "|")
}

func decodeMembers(s string) []fuse.TrackRef {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	members := make([]fuse.TrackRef, 0, len(parts))
	for _, part := range parts {
		camStr, trackStr, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		cam, err1 := strconv.Atoi(camStr)
		track, err2 := strconv.ParseInt(trackStr, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		members = append(members, fuse.TrackRef{Camera: ppe.CameraID(cam), TrackID: track})
	}
	return members
}
