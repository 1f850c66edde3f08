package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/store"
)

func (d *DB) UpsertPattern(ctx context.Context, upsert *store.UpsertPattern) (*store.PatternRecord, error) {
	if upsert.ID > 0 {
		stmt := `
			UPDATE query_pattern
			SET natural_query = $1, decomposed_query = $2, variations = $3,
				usage_count = $4, success_rate = $5, confidence = $6,
				embedding = $7, last_used_ts = $8, version = version + 1
			WHERE id = $9
			RETURNING id, created_ts, version
		`
		pattern := &store.PatternRecord{
			NaturalQuery:    upsert.NaturalQuery,
			DecomposedQuery: upsert.DecomposedQuery,
			Variations:      upsert.Variations,
			UsageCount:      upsert.UsageCount,
			SuccessRate:     upsert.SuccessRate,
			Confidence:      upsert.Confidence,
			Embedding:       upsert.Embedding,
			LastUsedTs:      upsert.LastUsedTs,
		}
		err := d.db.QueryRowContext(ctx, stmt,
			upsert.NaturalQuery,
			upsert.DecomposedQuery,
			upsert.Variations,
			upsert.UsageCount,
			upsert.SuccessRate,
			upsert.Confidence,
			pgvector.NewVector(upsert.Embedding),
			upsert.LastUsedTs,
			upsert.ID,
		).Scan(&pattern.ID, &pattern.CreatedTs, &pattern.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to update pattern %d", upsert.ID)
		}
		return pattern, nil
	}

	stmt := `
		INSERT INTO query_pattern (
			natural_query, decomposed_query, variations,
			usage_count, success_rate, confidence,
			embedding, last_used_ts, created_ts
		)
		VALUES (` + placeholders(9) + `)
		RETURNING id, version
	`
	pattern := &store.PatternRecord{
		NaturalQuery:    upsert.NaturalQuery,
		DecomposedQuery: upsert.DecomposedQuery,
		Variations:      upsert.Variations,
		UsageCount:      upsert.UsageCount,
		SuccessRate:     upsert.SuccessRate,
		Confidence:      upsert.Confidence,
		Embedding:       upsert.Embedding,
		LastUsedTs:      upsert.LastUsedTs,
		CreatedTs:       upsert.CreatedTs,
	}
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.NaturalQuery,
		upsert.DecomposedQuery,
		upsert.Variations,
		upsert.UsageCount,
		upsert.SuccessRate,
		upsert.Confidence,
		pgvector.NewVector(upsert.Embedding),
		upsert.LastUsedTs,
		upsert.CreatedTs,
	).Scan(&pattern.ID, &pattern.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert pattern")
	}
	return pattern, nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.PatternRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where = append(where, fmt.Sprintf("id = %s", placeholder(len(args)+1)))
		args = append(args, *v)
	}
	if v := find.MinConfidence; v != nil {
		where = append(where, fmt.Sprintf("confidence >= %s", placeholder(len(args)+1)))
		args = append(args, *v)
	}

	query := `
		SELECT id, natural_query, decomposed_query, variations,
			usage_count, success_rate, confidence, embedding,
			last_used_ts, created_ts, version
		FROM query_pattern
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY usage_count DESC, last_used_ts DESC
	`
	if v := find.Limit; v != nil {
		query += fmt.Sprintf(" LIMIT %d", *v)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	list := []*store.PatternRecord{}
	for rows.Next() {
		pattern, err := scanPattern(rows, nil)
		if err != nil {
			return nil, err
		}
		list = append(list, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate patterns")
	}
	return list, nil
}

// SearchSimilarPatterns ranks patterns by cosine similarity using the
// pgvector distance operator. Similarity is 1 - cosine distance.
func (d *DB) SearchSimilarPatterns(ctx context.Context, opts *store.PatternVectorSearchOptions) ([]*store.PatternWithScore, error) {
	query := `
		SELECT id, natural_query, decomposed_query, variations,
			usage_count, success_rate, confidence, embedding,
			last_used_ts, created_ts, version,
			1 - (embedding <=> $1) AS similarity
		FROM query_pattern
		WHERE embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $2
		ORDER BY similarity DESC
		LIMIT $3
	`
	rows, err := d.db.QueryContext(ctx, query,
		pgvector.NewVector(opts.Vector), opts.MinSimilarity, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search similar patterns")
	}
	defer rows.Close()

	list := []*store.PatternWithScore{}
	for rows.Next() {
		var score float64
		pattern, err := scanPattern(rows, &score)
		if err != nil {
			return nil, err
		}
		list = append(list, &store.PatternWithScore{Pattern: pattern, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate similar patterns")
	}
	return list, nil
}

// scanPattern reads one pattern row. When score is non-nil the row is
// expected to carry a trailing similarity column.
func scanPattern(rows *sql.Rows, score *float64) (*store.PatternRecord, error) {
	pattern := &store.PatternRecord{}
	var embedding pgvector.Vector
	dests := []any{
		&pattern.ID,
		&pattern.NaturalQuery,
		&pattern.DecomposedQuery,
		&pattern.Variations,
		&pattern.UsageCount,
		&pattern.SuccessRate,
		&pattern.Confidence,
		&embedding,
		&pattern.LastUsedTs,
		&pattern.CreatedTs,
		&pattern.Version,
	}
	if score != nil {
		dests = append(dests, score)
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, errors.Wrap(err, "failed to scan pattern")
	}
	pattern.Embedding = embedding.Slice()
	return pattern, nil
}
