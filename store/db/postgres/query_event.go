package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/store"
)

func (d *DB) CreateQueryEvent(ctx context.Context, create *store.CreateQueryEvent) error {
	stmt := `
		INSERT INTO query_event (
			query_id, session_id, input, resolution_path,
			success, result_size, latency_ms, timestamp
		)
		VALUES (` + placeholders(8) + `)
	`
	_, err := d.db.ExecContext(ctx, stmt,
		create.QueryID,
		create.SessionID,
		create.Input,
		create.ResolutionPath,
		create.Success,
		create.ResultSize,
		create.LatencyMs,
		create.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create query event")
	}
	return nil
}

func (d *DB) GetQueryStats(ctx context.Context, get *store.GetQueryStats) (*store.QueryStats, error) {
	where, args := []string{"1 = 1"}, []any{}
	if get.SessionID != "" {
		where = append(where, fmt.Sprintf("session_id = %s", placeholder(len(args)+1)))
		args = append(args, get.SessionID)
	}
	if get.TimeRange > 0 {
		since := time.Now().Add(-get.TimeRange).Unix()
		where = append(where, fmt.Sprintf("timestamp >= %s", placeholder(len(args)+1)))
		args = append(args, since)
	}

	query := `
		SELECT resolution_path, success, COUNT(*)
		FROM query_event
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY resolution_path, success
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query stats")
	}
	defer rows.Close()

	stats := &store.QueryStats{ByPath: map[string]int64{}}
	for rows.Next() {
		var path string
		var success bool
		var count int64
		if err := rows.Scan(&path, &success, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan stats row")
		}
		stats.TotalQueries += count
		if success {
			stats.SuccessCount += count
		} else {
			stats.FailureCount += count
		}
		stats.ByPath[path] += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate stats rows")
	}
	if stats.TotalQueries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalQueries)
	}
	stats.LastUpdated = time.Now().Unix()
	return stats, nil
}
