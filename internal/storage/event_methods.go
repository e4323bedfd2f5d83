package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/models"
)

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, space_id, serial_id, type, level, title, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.SpaceID, event.SerialID,
		event.Type, event.Level, event.Title, event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs with filters, newest first
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var where []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filters.SpaceID != nil {
		add("space_id = $%d", *filters.SpaceID)
	}
	if filters.SerialID != nil {
		add("serial_id = $%d", *filters.SerialID)
	}
	if filters.Type != nil {
		add("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		add("level = $%d", *filters.Level)
	}
	if filters.StartTime != nil {
		add("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("created_at <= $%d", *filters.EndTime)
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	n := len(args)
	query := `SELECT id, created_at, space_id, serial_id, type, level, title, description, details
        FROM event_logs` + cond + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)

	rows, err := s.getDB().QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		if err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.SpaceID, &event.SerialID,
			&event.Type, &event.Level, &event.Title, &event.Description, &event.Details,
		); err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, total, rows.Err()
}
