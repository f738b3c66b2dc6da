package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ademuri/vinyl-search/internal/music"
)

// ErrNoReport is returned when deleting a report that does not exist.
var ErrNoReport = errors.New("no such report")

// Report is a recurring availability email.
type Report struct {
	User      string
	Name      string
	Email     string
	Source    string
	TimeRange music.TimeRange
	// RunDay is the day of the month the report is due.
	RunDay int
	// Sent is zero until the report is first sent.
	Sent time.Time
}

func (s *Store) AddReport(r Report) error {
	if err := s.CreateUser(r.User); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO Report (user, name, email, source, time_range, run_day)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.User, r.Name, r.Email, r.Source, string(r.TimeRange), r.RunDay)
	if err != nil {
		return fmt.Errorf("adding report %q: %w", r.Name, err)
	}
	return nil
}

// Reports lists the reports of user, or of every user when user is empty.
func (s *Store) Reports(user string) ([]Report, error) {
	query := "SELECT user, name, email, source, time_range, run_day, sent FROM Report"
	var args []any
	if user != "" {
		query += " WHERE user = ?"
		args = append(args, user)
	}
	rows, err := s.db.Query(query+" ORDER BY user, name, email", args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		var timeRange string
		var sent sql.NullInt64
		if err := rows.Scan(&r.User, &r.Name, &r.Email, &r.Source, &timeRange, &r.RunDay, &sent); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.TimeRange = music.TimeRange(timeRange)
		if sent.Valid {
			r.Sent = time.Unix(sent.Int64, 0)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *Store) DeleteReport(user, name, email string) error {
	res, err := s.db.Exec("DELETE FROM Report WHERE user = ? AND name = ? AND email = ?", user, name, email)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("report %q to %s for %q: %w", name, email, user, ErrNoReport)
	}
	return nil
}

func (s *Store) MarkReportSent(r Report, sent time.Time) error {
	_, err := s.db.Exec("UPDATE Report SET sent = ? WHERE user = ? AND name = ? AND email = ?",
		sent.Unix(), r.User, r.Name, r.Email)
	if err != nil {
		return fmt.Errorf("recording report %q as sent: %w", r.Name, err)
	}
	return nil
}
