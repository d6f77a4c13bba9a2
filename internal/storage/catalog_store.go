package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by CatalogStore lookups when no row matches.
var ErrNotFound = errors.New("catalog: not found")

// CatalogStore reads the FG/Report/Test definitions that drive report
// collection. Catalog writes (FG/Report/Test/User CRUD) are direct ORM
// passthrough and out of scope here; this store only exposes the reads the
// report collector and renderer need.
type CatalogStore struct {
	conn *Connection
}

// NewCatalogStore builds a CatalogStore over conn (Catalog schema).
func NewCatalogStore(conn *Connection) *CatalogStore {
	return &CatalogStore{conn: conn}
}

// FG is one finished-good identity row.
type FG struct {
	ID         int64
	Code       string
	Rev        string
	Customer   string
	Serialized bool
}

// Report is one report definition bound to an FG.
type Report struct {
	ID         int64
	FGID       int64
	Attributes string
}

// Test is one test-row definition within a report.
type Test struct {
	ID             int64
	FGID           int64
	ReportID       sql.NullInt64
	TestType       string
	SourceType     string
	AssociatedTest string
	Frequency      string
	Voltage        string
	Minimum        string
	Maximum        string
	UOM            string
	PinPositive    string
	PinNegative    string
	SortOrder      int
	ManualOverride bool
}

// User is one operator identity row.
type User struct {
	ID          int64
	Username    string
	Name        string
	Permissions []string
	PINHash     string
}

// UserByUsername loads the user row matching username, as reported by the
// OS. Permissions is decoded from its JSON array column.
func (s *CatalogStore) UserByUsername(ctx context.Context, username string) (User, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, username, name, permissions, pin_hash FROM user WHERE username = ?
	`, username)

	var (
		u           User
		permissions string
		pinHash     sql.NullString
	)

	if err := row.Scan(&u.ID, &u.Username, &u.Name, &permissions, &pinHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}

		return User{}, fmt.Errorf("load user %q: %w", username, err)
	}

	if err := json.Unmarshal([]byte(permissions), &u.Permissions); err != nil {
		return User{}, fmt.Errorf("decode permissions for user %q: %w", username, err)
	}

	u.PINHash = pinHash.String

	return u, nil
}

// HasPermission reports whether u carries the named permission.
func (u User) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// FGByID loads one FG row.
func (s *CatalogStore) FGByID(ctx context.Context, id int64) (FG, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, fg, rev, customer, serialized FROM fg WHERE id = ?
	`, id)

	var fg FG

	var serialized int

	if err := row.Scan(&fg.ID, &fg.Code, &fg.Rev, &fg.Customer, &serialized); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FG{}, ErrNotFound
		}

		return FG{}, fmt.Errorf("load fg %d: %w", id, err)
	}

	fg.Serialized = serialized != 0

	return fg, nil
}

// ReportByID loads one report row.
func (s *CatalogStore) ReportByID(ctx context.Context, id int64) (Report, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, fg_id, attributes FROM report WHERE id = ?
	`, id)

	var report Report

	if err := row.Scan(&report.ID, &report.FGID, &report.Attributes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrNotFound
		}

		return Report{}, fmt.Errorf("load report %d: %w", id, err)
	}

	return report, nil
}

// TestsByReport loads every test row for reportID, sorted by sort_order —
// the order the renderer lays columns out in.
func (s *CatalogStore) TestsByReport(ctx context.Context, reportID int64) ([]Test, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, fg_id, report_id, test_type, source_type, associated_test,
		       frequency, voltage, minimum, maximum, uo_m, pin_positive,
		       pin_negative, sort_order, manual_override
		FROM test
		WHERE report_id = ?
		ORDER BY sort_order ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("load tests for report %d: %w", reportID, err)
	}
	defer rows.Close()

	var out []Test

	for rows.Next() {
		var (
			t              Test
			manualOverride int
		)

		if err := rows.Scan(
			&t.ID, &t.FGID, &t.ReportID, &t.TestType, &t.SourceType, &t.AssociatedTest,
			&t.Frequency, &t.Voltage, &t.Minimum, &t.Maximum, &t.UOM, &t.PinPositive,
			&t.PinNegative, &t.SortOrder, &manualOverride,
		); err != nil {
			return nil, fmt.Errorf("scan test row: %w", err)
		}

		t.ManualOverride = manualOverride != 0
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test rows: %w", err)
	}

	return out, nil
}
