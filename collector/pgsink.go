package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchiveRecords upserts a record set into the vulnerabilities table.
// The sink is optional: it only runs when a Postgres DSN is configured,
// and a failure here never invalidates the file exports.
func ArchiveRecords(ctx context.Context, pool *pgxpool.Pool, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		refs, err := json.Marshal(rec.References)
		if err != nil {
			slog.Warn("skipping record with unmarshalable references", "id", rec.ID, "err", err)
			continue
		}

		var score *float64
		if rec.HasScore {
			s := rec.Score
			score = &s
		}

		batch.Queue(`
			INSERT INTO vulnerabilities
				(cve_id, severity, score, technologies, components, published,
				 description, has_fix, exploitable, high_profile, known_exploited,
				 source_url, reference_links, collected_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, NOW())
			ON CONFLICT (cve_id) DO UPDATE SET
				severity = EXCLUDED.severity,
				score = EXCLUDED.score,
				technologies = EXCLUDED.technologies,
				components = EXCLUDED.components,
				published = EXCLUDED.published,
				description = EXCLUDED.description,
				has_fix = EXCLUDED.has_fix,
				exploitable = EXCLUDED.exploitable,
				high_profile = EXCLUDED.high_profile,
				known_exploited = EXCLUDED.known_exploited,
				source_url = EXCLUDED.source_url,
				reference_links = EXCLUDED.reference_links,
				collected_at = NOW()
		`, rec.ID, rec.Severity, score, rec.Technologies, rec.Components,
			rec.Published, rec.Description, rec.HasFix, rec.Exploitable,
			rec.HighProfile, rec.KnownExploited, rec.SourceURL, refs)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	br.Close()

	return tx.Commit(ctx)
}

// OpenArchive connects to the archive database and verifies the connection.
func OpenArchive(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive ping: %w", err)
	}
	return pool, nil
}
