package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the engine's structured event records
type EventType string

const (
	EventSignalDetected EventType = "signal_detected"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventEntryBlocked   EventType = "entry_blocked"
	EventEntryFailed    EventType = "entry_failed"
	EventPartialExit    EventType = "partial_exit"
)

// Event is one record on the engine's event channel
type Event struct {
	Type      EventType
	Time      time.Time
	MarketID  string
	Tier      SignalTier
	Direction Direction
	Price     decimal.Decimal
	Size      decimal.Decimal
	PnL       decimal.Decimal
	Reason    string
}
