package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const orderColumns = `id, product_id, price, customer_name, customer_email, payment_status,
	COALESCE(payment_id, ''), COALESCE(gateway_id, ''), created_at, updated_at`

// pgDB is the part of *pgxpool.Pool the store uses.
type pgDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps orders in Postgres.
type PostgresStore struct {
	db      pgDB
	logger  *zap.Logger
	nowFunc func() time.Time
}

func NewPostgresStore(db pgDB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, nowFunc: time.Now}
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	if err := row.Scan(&o.OrderID, &o.ProductID, &o.Price, &o.CustomerName, &o.CustomerEmail,
		&o.PaymentStatus, &o.PaymentID, &o.GatewayID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) Create(ctx context.Context, in NewOrder) (*Order, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.nowFunc().UTC()
	query := `INSERT INTO orders (id, product_id, price, customer_name, customer_email, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRow(ctx, query, id, in.ProductID, in.Price, in.CustomerName, in.CustomerEmail, StatusPending, now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		s.logger.Error("Failed to create order", zap.String("order_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.logger.Debug("Order created successfully", zap.String("order_id", id))
	return o, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		s.logger.Error("Failed to get order by ID", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to get order by ID %s: %w", orderID, err)
	}
	return o, nil
}

func (s *PostgresStore) Update(ctx context.Context, orderID string, upd PaymentUpdate) (*Order, error) {
	if !IsTerminal(upd.Status) {
		return nil, fmt.Errorf("%w: to %s", ErrInvalidTransition, upd.Status)
	}
	query := `UPDATE orders
		SET payment_status = $2, payment_id = NULLIF($3, ''), gateway_id = NULLIF($4, ''), updated_at = $5
		WHERE id = $1 AND payment_status = $6
		RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRow(ctx, query, orderID, upd.Status, upd.PaymentID, upd.GatewayID, s.nowFunc().UTC(), StatusPending))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		s.logger.Error("Failed to update order", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to update order %s: %w", orderID, err)
	}

	current, ferr := s.FindByID(ctx, orderID)
	if ferr != nil {
		return nil, ferr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.PaymentStatus, upd.Status)
}
