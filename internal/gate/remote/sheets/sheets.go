package sheets

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/colonia-access/gatekeeper/internal/gate/remote"
)

// timeLayout matches how the administrators' spreadsheet has always
// stored visit windows.
const timeLayout = "2006-01-02 15:04:05"

// Columns A:L of the worksheet, one record per row:
// id, kind, resident_id, name, purpose, status, vehicle_plate, token_id,
// access_code, starts_at, ends_at, version. Row 1 is the header.
const numColumns = 12

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string

	// Location renders StartsAt/EndsAt the way the sheet's human
	// readers expect: facility-local wall-clock time.
	Location *time.Location

	Logger *log.Logger
}

// Store adapts a Google Sheets worksheet to the remote.Store contract.
// The worksheet is append-mostly: new records append rows, status updates
// rewrite the record's existing row in place.
type Store struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	logger        *log.Logger
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "ControlAccesoQR"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	opts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}

	return &Store{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		loc:           cfg.Location,
		logger:        cfg.Logger,
	}, nil
}

// FetchSince reads data rows after the cursor (a count of rows already
// consumed). The worksheet only grows, so a row offset is a valid
// monotone cursor.
func (s *Store) FetchSince(ctx context.Context, cursor string) ([]remote.Record, string, error) {
	seen := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("sheets: bad cursor %q", cursor)
		}
		seen = n
	}

	// Data starts at row 2; row seen+2 is the first unseen row.
	rng := fmt.Sprintf("%s!A%d:L", s.sheetName, seen+2)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, "", fmt.Errorf("sheets: fetch %s: %w", rng, err)
	}

	// The cursor advances over malformed rows too: administrators edit
	// the sheet by hand, and one bad cell must not wedge every future
	// pull behind it.
	records := s.recordsFromRows(resp.Values, seen+2)

	return records, strconv.Itoa(seen + len(resp.Values)), nil
}

// recordsFromRows parses fetched rows, skipping rows that do not parse.
// firstRow is the 1-based worksheet row of values[0], for the log.
func (s *Store) recordsFromRows(values [][]any, firstRow int) []remote.Record {
	records := make([]remote.Record, 0, len(values))
	for i, row := range values {
		rec, err := s.recordFromRow(row)
		if err != nil {
			s.logger.Printf("sheets: skipping row %d: %v", firstRow+i, err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *Store) WriteRecord(ctx context.Context, rec remote.Record) (string, error) {
	if rec.ID == "" {
		return "", &remote.RejectedError{ID: rec.ID, Reason: "record has no id"}
	}

	rowIdx, existing, err := s.findRow(ctx, rec.ID)
	if err != nil {
		return "", err
	}

	if rowIdx == 0 {
		rec.Version = "1"
		vr := &sheetsapi.ValueRange{Values: [][]any{s.rowFromRecord(rec)}}
		_, err := s.svc.Spreadsheets.Values.
			Append(s.spreadsheetID, fmt.Sprintf("%s!A:L", s.sheetName), vr).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("sheets: append %s: %w", rec.ID, err)
		}
		return rec.Version, nil
	}

	if recordsEqual(existing, rec) {
		// Retried push of content already written: idempotent no-op.
		return existing.Version, nil
	}
	if rec.Version != existing.Version {
		return "", &remote.RejectedError{
			ID:     rec.ID,
			Reason: fmt.Sprintf("row holds version %s, writer based on %s", existing.Version, rec.Version),
		}
	}

	n, _ := strconv.Atoi(existing.Version)
	rec.Version = strconv.Itoa(n + 1)
	vr := &sheetsapi.ValueRange{Values: [][]any{s.rowFromRecord(rec)}}
	_, err = s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, fmt.Sprintf("%s!A%d:L%d", s.sheetName, rowIdx, rowIdx), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets: update %s row %d: %w", rec.ID, rowIdx, err)
	}
	return rec.Version, nil
}

// findRow returns the 1-based worksheet row holding id, or 0 if absent.
func (s *Store) findRow(ctx context.Context, id string) (int, remote.Record, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, fmt.Sprintf("%s!A2:L", s.sheetName)).
		Context(ctx).Do()
	if err != nil {
		return 0, remote.Record{}, fmt.Errorf("sheets: scan for %s: %w", id, err)
	}

	for i, row := range resp.Values {
		if len(row) > 0 && cell(row, 0) == id {
			rec, err := s.recordFromRow(row)
			if err != nil {
				return 0, remote.Record{}, fmt.Errorf("sheets: row %d: %w", i+2, err)
			}
			return i + 2, rec, nil
		}
	}
	return 0, remote.Record{}, nil
}

func (s *Store) rowFromRecord(rec remote.Record) []any {
	return []any{
		rec.ID, rec.Kind, rec.ResidentID, rec.Name, rec.Purpose, rec.Status,
		rec.VehiclePlate, rec.TokenID, rec.AccessCode,
		s.formatTime(rec.StartsAt), s.formatTime(rec.EndsAt), rec.Version,
	}
}

func (s *Store) recordFromRow(row []any) (remote.Record, error) {
	rec := remote.Record{
		ID:           cell(row, 0),
		Kind:         cell(row, 1),
		ResidentID:   cell(row, 2),
		Name:         cell(row, 3),
		Purpose:      cell(row, 4),
		Status:       cell(row, 5),
		VehiclePlate: cell(row, 6),
		TokenID:      cell(row, 7),
		AccessCode:   cell(row, 8),
		Version:      cell(row, 11),
	}
	if rec.ID == "" {
		return remote.Record{}, fmt.Errorf("row has no id")
	}

	var err error
	if rec.StartsAt, err = s.parseTime(cell(row, 9)); err != nil {
		return remote.Record{}, fmt.Errorf("starts_at: %w", err)
	}
	if rec.EndsAt, err = s.parseTime(cell(row, 10)); err != nil {
		return remote.Record{}, fmt.Errorf("ends_at: %w", err)
	}
	return rec, nil
}

func (s *Store) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(s.loc).Format(timeLayout)
}

func (s *Store) parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(timeLayout, v, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func cell(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	v, ok := row[i].(string)
	if !ok {
		return fmt.Sprint(row[i])
	}
	return v
}

func recordsEqual(a, b remote.Record) bool {
	a.Version, b.Version = "", ""
	return a.ID == b.ID && a.Kind == b.Kind && a.ResidentID == b.ResidentID &&
		a.Name == b.Name && a.Purpose == b.Purpose && a.Status == b.Status &&
		a.VehiclePlate == b.VehiclePlate && a.TokenID == b.TokenID &&
		a.AccessCode == b.AccessCode &&
		a.StartsAt.Equal(b.StartsAt) && a.EndsAt.Equal(b.EndsAt)
}
