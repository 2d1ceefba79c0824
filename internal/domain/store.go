package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderFilter narrows order listings. Zero addresses match any token.
type OrderFilter struct {
	Wallet common.Address
	Src    common.Address
	Dest   common.Address
	States []OrderState
}

// OrderStore persists limit orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateState(ctx context.Context, id string, state OrderState, reason string) error
	GetByID(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter, opts ListOpts) ([]Order, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Order, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
