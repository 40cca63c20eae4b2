package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/healthrecords/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGSink stores sealed entries in the audit_log table.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PGSink) Append(ctx context.Context, sealed string, at time.Time) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO audit_log (sealed_entry, created_at) VALUES ($1, $2)`, sealed, at)
	return err
}

// Since returns sealed entries written at or after t, oldest first.
func (s *PGSink) Since(ctx context.Context, t time.Time, limit int) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT sealed_entry FROM audit_log WHERE created_at >= $1 ORDER BY created_at, id LIMIT $2`, t, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sealed string
		if err := rows.Scan(&sealed); err != nil {
			return nil, err
		}
		out = append(out, sealed)
	}
	return out, rows.Err()
}
