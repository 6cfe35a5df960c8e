package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Position, event and risk-state persistence
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// PositionRecord is one position's lifecycle on disk
type PositionRecord struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	MarketID   string          `gorm:"index"`
	Status     string          `gorm:"index"`
	UpShares   decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpEntry    decimal.Decimal `gorm:"type:decimal(10,6)"`
	DownShares decimal.Decimal `gorm:"type:decimal(20,6)"`
	DownEntry  decimal.Decimal `gorm:"type:decimal(10,6)"`
	UpExit     decimal.Decimal `gorm:"type:decimal(10,6)"`
	DownExit   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Realized   decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitReason string
	EnteredAt  time.Time
	ClosedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventRecord is one engine event on disk
type EventRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Type      string          `gorm:"index"`
	MarketID  string          `gorm:"index"`
	Tier      int
	Direction string
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size      decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason    string
	EventTime time.Time `gorm:"index"`
	CreatedAt time.Time
}

// RiskRecord persists the risk manager's breakers across restarts.
// Single row, id 1.
type RiskRecord struct {
	ID                uint `gorm:"primaryKey"`
	ConsecutiveLosses int
	DailyPnL          decimal.Decimal `gorm:"type:decimal(20,6)"`
	LastLossAt        time.Time
	Paused            bool
	PauseReason       string
	PauseUntil        time.Time
	UpdatedAt         time.Time
}

// New opens the database. A postgres:// DSN selects PostgreSQL, anything
// else is treated as a SQLite path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&PositionRecord{}, &EventRecord{}, &RiskRecord{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// SavePosition upserts a position's current state keyed by market id and
// entry time.
func (d *Database) SavePosition(pos types.Position) error {
	record := PositionRecord{
		MarketID:   pos.MarketID,
		Status:     pos.Status.String(),
		UpShares:   pos.UpShares,
		UpEntry:    pos.UpEntry,
		DownShares: pos.DownShares,
		DownEntry:  pos.DownEntry,
		UpExit:     pos.UpExit,
		DownExit:   pos.DownExit,
		Realized:   pos.Realized,
		ExitReason: pos.ExitReason,
		EnteredAt:  pos.EnteredAt,
	}
	if !pos.ClosedAt.IsZero() {
		closed := pos.ClosedAt
		record.ClosedAt = &closed
	}

	var existing PositionRecord
	err := d.db.Where("market_id = ? AND entered_at = ?", pos.MarketID, pos.EnteredAt).First(&existing).Error
	if err == nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}
	return d.db.Save(&record).Error
}

// LoadOpenPositions returns positions that never closed, for crash recovery
func (d *Database) LoadOpenPositions() ([]types.Position, error) {
	var records []PositionRecord
	if err := d.db.Where("status = ?", types.StatusOpen.String()).Find(&records).Error; err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(records))
	for _, r := range records {
		positions = append(positions, types.Position{
			MarketID:   r.MarketID,
			Status:     types.StatusOpen,
			UpShares:   r.UpShares,
			UpEntry:    r.UpEntry,
			DownShares: r.DownShares,
			DownEntry:  r.DownEntry,
			UpExit:     r.UpExit,
			DownExit:   r.DownExit,
			Realized:   r.Realized,
			EnteredAt:  r.EnteredAt,
		})
	}
	return positions, nil
}

// SaveEvent appends one engine event
func (d *Database) SaveEvent(event types.Event) error {
	return d.db.Create(&EventRecord{
		Type:      string(event.Type),
		MarketID:  event.MarketID,
		Tier:      int(event.Tier),
		Direction: event.Direction.String(),
		Price:     event.Price,
		Size:      event.Size,
		PnL:       event.PnL,
		Reason:    event.Reason,
		EventTime: event.Time,
	}).Error
}

// RecentEvents returns the newest events first
func (d *Database) RecentEvents(limit int) ([]EventRecord, error) {
	var records []EventRecord
	err := d.db.Order("event_time DESC").Limit(limit).Find(&records).Error
	return records, err
}

// SaveRiskState persists the breaker state
func (d *Database) SaveRiskState(state types.RiskState) error {
	record := RiskRecord{
		ID:                1,
		ConsecutiveLosses: state.ConsecutiveLosses,
		DailyPnL:          state.DailyPnL,
		LastLossAt:        state.LastLossAt,
		Paused:            state.Paused,
		PauseReason:       state.PauseReason,
		PauseUntil:        state.PauseUntil,
	}
	return d.db.Save(&record).Error
}

// LoadRiskState restores the breaker state; ok is false on first run
func (d *Database) LoadRiskState() (types.RiskState, bool, error) {
	var record RiskRecord
	err := d.db.First(&record, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.RiskState{}, false, nil
	}
	if err != nil {
		return types.RiskState{}, false, err
	}
	return types.RiskState{
		ConsecutiveLosses: record.ConsecutiveLosses,
		DailyPnL:          record.DailyPnL,
		LastLossAt:        record.LastLossAt,
		Paused:            record.Paused,
		PauseReason:       record.PauseReason,
		PauseUntil:        record.PauseUntil,
	}, true, nil
}

// Close releases the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
