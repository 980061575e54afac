package ledger

import (
	"context"
	"time"
)

// Settlement is one payment settled by the facilitator for a served request.
type Settlement struct {
	ID          string
	RequestID   string
	Route       string
	Payer       string
	Network     string
	Amount      string // atomic units of the asset
	Transaction string
	CreatedAt   time.Time
}

type Store interface {
	RecordSettlement(ctx context.Context, s *Settlement) error
}

// NopStore discards settlements. Used when no database is configured.
type NopStore struct{}

func (NopStore) RecordSettlement(context.Context, *Settlement) error { return nil }
