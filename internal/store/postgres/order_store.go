package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

var _ domain.OrderStore = (*OrderStore)(nil)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// OrderStore implements domain.OrderStore using PostgreSQL. Tokens are
// resolved through the registry on read so their native and wrapped flags
// come back intact; tokens missing from it keep their stored symbol and
// decimals.
type OrderStore struct {
	pool   *pgxpool.Pool
	tokens *domain.TokenRegistry
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool, tokens *domain.TokenRegistry) *OrderStore {
	return &OrderStore{pool: pool, tokens: tokens}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, sender,
			src_token, src_symbol, src_decimals,
			dest_token, dest_symbol, dest_decimals,
			source_amount, target_rate, fee_ppm, transfer_fee_ppm,
			nonce, side, state, signature, reason,
			created_at, updated_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Sender.Hex(),
		o.Src.Address.Hex(), o.Src.Symbol, int16(o.Src.Decimals),
		o.Dest.Address.Hex(), o.Dest.Symbol, int16(o.Dest.Decimals),
		intText(o.SourceAmount), intText(o.TargetRate), int64(o.FeePPM), int64(o.TransferFeePPM),
		o.Nonce, string(o.Side), string(o.State), o.Signature, o.Reason,
		nowIfZero(o.CreatedAt), nowIfZero(o.UpdatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create order %s: %w", o.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateState sets an order's state and reason.
func (s *OrderStore) UpdateState(ctx context.Context, id string, state domain.OrderState, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET state = $1, reason = $2, updated_at = NOW() WHERE id = $3`,
		string(state), reason, id)
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, sender,
	src_token, src_symbol, src_decimals,
	dest_token, dest_symbol, dest_decimals,
	source_amount, target_rate, fee_ppm, transfer_fee_ppm,
	nonce, side, state, signature, reason,
	created_at, updated_at`

func (s *OrderStore) scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                         domain.Order
		sender, srcAddr, destAddr string
		srcDec, destDec           int16
		amount, rate              string
		fee, transferFee          int64
		side, state               string
	)
	err := row.Scan(
		&o.ID, &sender,
		&srcAddr, &o.Src.Symbol, &srcDec,
		&destAddr, &o.Dest.Symbol, &destDec,
		&amount, &rate, &fee, &transferFee,
		&o.Nonce, &side, &state, &o.Signature, &o.Reason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Sender = common.HexToAddress(sender)
	o.Src = s.token(srcAddr, o.Src.Symbol, srcDec)
	o.Dest = s.token(destAddr, o.Dest.Symbol, destDec)
	o.FeePPM, o.TransferFeePPM = uint32(fee), uint32(transferFee)
	o.Side = domain.OrderSide(side)
	o.State = domain.OrderState(state)

	var ok bool
	if o.SourceAmount, ok = new(big.Int).SetString(amount, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: order %s: bad source amount %q", o.ID, amount)
	}
	if o.TargetRate, ok = new(big.Int).SetString(rate, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: order %s: bad target rate %q", o.ID, rate)
	}
	return o, nil
}

func (s *OrderStore) token(addr, symbol string, decimals int16) domain.Token {
	a := common.HexToAddress(addr)
	if s.tokens != nil {
		if t, ok := s.tokens.Get(a); ok {
			return t
		}
	}
	return domain.Token{Address: a, Symbol: symbol, Decimals: uint8(decimals)}
}

func (s *OrderStore) scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := s.scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders matching filter, newest first.
func (s *OrderStore) List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := buildListQuery(filter, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	orders, err := s.scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// buildListQuery renders the WHERE clause for filter and the paging in opts.
func buildListQuery(filter domain.OrderFilter, opts domain.ListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	var zero common.Address
	if filter.Wallet != zero {
		add("sender = $%d", filter.Wallet.Hex())
	}
	if filter.Src != zero {
		add("src_token = $%d", filter.Src.Hex())
	}
	if filter.Dest != zero {
		add("dest_token = $%d", filter.Dest.Hex())
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		add("state = ANY($%d)", states)
	}
	if opts.Since != nil {
		add("created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("created_at <= $%d", *opts.Until)
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// ListTerminalBefore returns filled, cancelled and rejected orders last
// updated before the cutoff, oldest first.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE state IN ('filled', 'cancelled', 'rejected') AND updated_at < $1
		 ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	orders, err := s.scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal orders: %w", err)
	}
	return orders, nil
}

// DeleteByIDs removes the given orders and returns how many were deleted.
func (s *OrderStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func intText(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
