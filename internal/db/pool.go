package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Queryer is the subset of *pgxpool.Pool, *pgxpool.Conn and pgx.Tx the
// repositories need.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var _ Queryer = &pgxpool.Pool{}

// Connect opens a pool with the given bounds. Zero leaves pgx's default.
func Connect(ctx context.Context, uri string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	conf, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if minConns > 0 {
		conf.MinConns = minConns
	}
	if maxConns > 0 {
		conf.MaxConns = maxConns
	}

	pool, err := pgxpool.ConnectConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("can not connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}
	return pool, nil
}
