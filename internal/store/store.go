// Package store provides the Postgres unit of work behind the role service.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consentdac/backend/internal/datasets"
	"github.com/consentdac/backend/internal/elections"
	"github.com/consentdac/backend/internal/roles"
	"github.com/consentdac/backend/internal/users"
	"github.com/consentdac/backend/internal/votes"
	"github.com/consentdac/backend/pkg/database"
)

type (
	userRepo     = users.Repository
	electionRepo = elections.Repository
	voteRepo     = votes.Repository
	datasetRepo  = datasets.Repository
)

// Unit bundles the repositories over one connection or transaction.
type Unit struct {
	*userRepo
	*electionRepo
	*voteRepo
	*datasetRepo
}

var (
	_ roles.Tx              = (*Unit)(nil)
	_ elections.ProvisionTx = (*Unit)(nil)
)

// NewUnit binds every repository to db.
func NewUnit(db database.DBTX) *Unit {
	return &Unit{
		userRepo:     users.NewRepository(db),
		electionRepo: elections.NewRepository(db),
		voteRepo:     votes.NewRepository(db),
		datasetRepo:  datasets.NewRepository(db),
	}
}

// Store opens units of work on a pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in one read-committed transaction across users, roles, votes,
// elections and dataset associations. fn's error triggers a rollback and is
// returned unwrapped.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx roles.Tx) error) error {
	return s.WithTx(ctx, func(ctx context.Context, u *Unit) error {
		return fn(ctx, u)
	})
}

// WithTx is InTx for callers that need the full repository surface, such as
// election creation.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, NewUnit(tx))
	})
}

// Provision adapts WithTx to elections.Service.
func (s *Store) Provision(ctx context.Context, fn func(ctx context.Context, tx elections.ProvisionTx) error) error {
	return s.WithTx(ctx, func(ctx context.Context, u *Unit) error {
		return fn(ctx, u)
	})
}
