package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReadPool wraps the read-replica pool (or the primary pool when no replica
// is configured) and hands out connections bound to the tenant schema held in
// the request context. Query handlers use it so reporting reads never compete
// with the write path; replica lag is acceptable staleness for reports.
type ReadPool struct {
	pool *pgxpool.Pool
}

func NewReadPool(pool *pgxpool.Pool) *ReadPool {
	return &ReadPool{pool: pool}
}

// Acquire returns a connection with its search_path set to the tenant schema
// from ctx (shared schema only when no tenant is set). The caller must invoke
// the returned release function when done.
func (p *ReadPool) Acquire(ctx context.Context) (*pgxpool.Conn, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire read connection: %w", err)
	}

	path := "shared, public"
	if tid := TenantFromContext(ctx); tid != "" {
		path = SchemaName(tid) + ", " + path
	}
	if _, err := conn.Exec(ctx, "SET search_path TO "+path); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("bind read connection to schema: %w", err)
	}

	return conn, conn.Release, nil
}
