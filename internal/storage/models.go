package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObservationRecord is a persisted snapshot of a subject, one row per
// subject per tick bucket. Retained for charts and the export command.
type ObservationRecord struct {
	Subject        string
	Bucket         time.Time
	Price          decimal.Decimal
	Volume         decimal.Decimal
	TradeCount     int64
	HolderCount    int64
	HolderDelta30m int64
	HolderDelta6h  int64
	CreatedAt      time.Time
}
