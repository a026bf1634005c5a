package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeRecord is the persisted form of a trade aggregate. Structured fields
// are stored as JSON columns; the in-memory aggregate remains authoritative.
type TradeRecord struct {
	ID               string          `gorm:"primaryKey;type:uuid"`
	CorrelationID    string          `gorm:"type:uuid;not null"`
	OrganizationID   string          `gorm:"not null;index"`
	UserID           string          `gorm:"not null;index"`
	Commodity        string          `gorm:"not null"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Price            decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Counterparty     string
	Status           string `gorm:"not null;index"`
	ValidationErrors string `gorm:"type:jsonb"`
	Notes            string
	Allocation       string `gorm:"type:jsonb"`
	Settlement       string `gorm:"type:jsonb"`
	Transitions      string `gorm:"type:jsonb"`
	CapturedAt       time.Time
	UpdatedAt        time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (TradeRecord) TableName() string { return "trades" }

// GormRepository persists trades through gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the trades table and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate trades table: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Save upserts the aggregate's current state.
func (r *GormRepository) Save(ctx context.Context, trade *Trade) error {
	record, err := toRecord(trade)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
}

// Load reads a persisted trade back into aggregate form.
func (r *GormRepository) Load(ctx context.Context, tradeID string) (*Trade, error) {
	var record TradeRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", tradeID).Error; err != nil {
		return nil, err
	}
	return fromRecord(&record)
}

func toRecord(t *Trade) (*TradeRecord, error) {
	record := &TradeRecord{
		ID:             t.ID.String(),
		CorrelationID:  t.CorrelationID.String(),
		OrganizationID: t.OrganizationID,
		UserID:         t.UserID,
		Commodity:      t.Commodity,
		Quantity:       t.Quantity,
		Price:          t.Price,
		Counterparty:   t.Counterparty,
		Status:         string(t.Status),
		Notes:          t.Notes,
		CapturedAt:     t.CapturedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	for _, field := range []struct {
		dst *string
		src interface{}
	}{
		{&record.ValidationErrors, t.ValidationErrors},
		{&record.Allocation, t.Allocation},
		{&record.Settlement, t.Settlement},
		{&record.Transitions, t.Transitions},
	} {
		data, err := json.Marshal(field.src)
		if err != nil {
			return nil, fmt.Errorf("marshal trade %s: %w", t.ID, err)
		}
		*field.dst = string(data)
	}
	return record, nil
}

func fromRecord(r *TradeRecord) (*Trade, error) {
	t := &Trade{
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Commodity:      r.Commodity,
		Quantity:       r.Quantity,
		Price:          r.Price,
		Counterparty:   r.Counterparty,
		Status:         TradeStatus(r.Status),
		Notes:          r.Notes,
		CapturedAt:     r.CapturedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	var err error
	if t.ID, err = uuid.Parse(r.ID); err != nil {
		return nil, fmt.Errorf("parse trade id %q: %w", r.ID, err)
	}
	if t.CorrelationID, err = uuid.Parse(r.CorrelationID); err != nil {
		return nil, fmt.Errorf("parse correlation id %q: %w", r.CorrelationID, err)
	}
	for _, field := range []struct {
		src string
		dst interface{}
	}{
		{r.ValidationErrors, &t.ValidationErrors},
		{r.Allocation, &t.Allocation},
		{r.Settlement, &t.Settlement},
		{r.Transitions, &t.Transitions},
	} {
		if field.src == "" || field.src == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(field.src), field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal trade %s: %w", r.ID, err)
		}
	}
	return t, nil
}
