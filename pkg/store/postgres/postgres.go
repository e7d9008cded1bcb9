// Package postgres implements every persistence contract named across
// pkg/knowledge, pkg/runtimectl, pkg/session, and pkg/telemetry against a
// single Postgres database, driven through sqlx on top of pgx's
// database/sql adapter.
package postgres

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
)

// Open establishes a connection pool against dsn and wraps it in sqlx,
// using pgx's stdlib adapter as the driver so the same *sql.DB backs both
// sqlx queries here and any tooling (goose) that wants a plain
// database/sql handle.
func Open(dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, dbErr("connect", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Store bundles the shared *sqlx.DB and a circuit breaker around the
// external readiness checks (search/graph/warehouse collaborators) so a
// downstream outage degrades their reported readiness instead of
// cascading into the request path.
type Store struct {
	db       *sqlx.DB
	readiness *gobreaker.CircuitBreaker
}

func NewStore(db *sqlx.DB) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "external-readiness",
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Store{db: db, readiness: cb}
}

// ReadinessCheck is a collaborator probe (search/graph/warehouse) run
// through CheckReadiness. No package in this module calls CheckReadiness
// or constructs a Store.
type ReadinessCheck func(ctx context.Context) error

// CheckReadiness runs check through the shared circuit breaker, returning
// a {ready:false, reason:...} style result instead of propagating the
// raw error once the breaker is open.
func (s *Store) CheckReadiness(ctx context.Context, check ReadinessCheck) (ready bool, reason string) {
	_, err := s.readiness.Execute(func() (interface{}, error) {
		return nil, check(ctx)
	})
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}
