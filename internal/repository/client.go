package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/tracectrl/internal/model"
)

// touchLastConnected keeps last_connected strictly increasing even when two
// contacts land within the clock's resolution.
const touchLastConnected = `last_connected = GREATEST(clock_timestamp(), last_connected + interval '1 microsecond')`

// ClientRepository issues and looks up client identifiers.
type ClientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository returns a ClientRepository using the given pool.
func NewClientRepository(pool *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

// Register refreshes the requested client and returns its id, or creates a new
// client when requested is nil or unknown. A new id comes from the sequence and
// is unrelated to the requested value.
func (r *ClientRepository) Register(ctx context.Context, requested *int32) (int32, error) {
	var id int32
	if requested != nil {
		err := r.pool.QueryRow(ctx,
			`UPDATE clients SET `+touchLastConnected+` WHERE id = $1 RETURNING id`,
			*requested,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO clients DEFAULT VALUES RETURNING id`).Scan(&id)
	return id, err
}

// Exists reports whether a client with id has been registered.
func (r *ClientRepository) Exists(ctx context.Context, id int32) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// GetByID returns one client by id, or nil if not found.
func (r *ClientRepository) GetByID(ctx context.Context, id int32) (*model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, created_at, last_connected, reports_sent
		FROM clients WHERE id = $1`, id).Scan(
		&c.ID,
		&c.CreatedAt,
		&c.LastConnected,
		&c.ReportsSent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
