package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// WhaleEvent archives detected transfers. EventKey is the dedupe key.
type WhaleEvent struct {
	EventKey     string          `gorm:"primaryKey;size:160"`
	TxHash       string          `gorm:"size:128;not null;index"`
	LogIndex     uint64          `gorm:"not null;default:0"`
	BlockNumber  uint64          `gorm:"not null;index"`
	FromAddress  string          `gorm:"size:64;not null;index"`
	ToAddress    string          `gorm:"size:64;index"`
	ValueETH     decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	ValueToken   decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	Source       string          `gorm:"size:16;not null;index"`
	TimestampSec int64           `gorm:"not null;index"`
	CreatedTS    int64           `gorm:"not null"`
}

func (WhaleEvent) TableName() string {
	return "whale_events"
}

// WhaleProfile stores the latest classification per address
type WhaleProfile struct {
	Address        string  `gorm:"primaryKey;size:64"`
	WhaleType      string  `gorm:"size:32;not null;index"`
	Confidence     float64 `gorm:"type:decimal(5,4);not null"`
	Activity       string  `gorm:"size:32;not null"`
	RiskScore      float64 `gorm:"type:decimal(6,2);not null;index"`
	KnownEntity    string  `gorm:"size:128"`
	BalanceETH     float64 `gorm:"type:decimal(30,6);not null;default:0"`
	TxCount        uint64  `gorm:"not null;default:0"`
	Counterparties uint64  `gorm:"not null;default:0"`
	IsContract     bool    `gorm:"not null;default:false"`
	ProfiledTS     int64   `gorm:"not null;index"`
	UpdatedTS      int64   `gorm:"not null"`
}

func (WhaleProfile) TableName() string {
	return "whale_profiles"
}

// Alert stores generated alerts. Payload holds the full JSON document.
type Alert struct {
	AlertID      string          `gorm:"primaryKey;size:32"`
	AlertType    string          `gorm:"size:32;not null;index"`
	Severity     string          `gorm:"size:16;not null;index"`
	WhaleAddress string          `gorm:"size:64;not null;index"`
	TxHash       string          `gorm:"size:128;not null;index"`
	ValueETH     decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	ValueToken   decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	ValueUSD     float64         `gorm:"type:decimal(24,2);not null"`
	Direction    string          `gorm:"size:16;not null"`
	Confidence   float64         `gorm:"type:decimal(5,4);not null"`
	ImpactScore  float64         `gorm:"type:decimal(6,2);default:0"`
	Action       string          `gorm:"size:255;not null"`
	Payload      string          `gorm:"type:text"`
	CreatedTS    int64           `gorm:"not null;index"`
}

func (Alert) TableName() string {
	return "alerts"
}

// ImpactRecord stores one correlation result
type ImpactRecord struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	EventKey       string  `gorm:"size:160;not null;index"`
	Venue          string  `gorm:"size:64;not null"`
	ValueETH       float64 `gorm:"type:decimal(30,6);not null"`
	Change1mPct    float64 `gorm:"type:decimal(12,6)"`
	Change5mPct    float64 `gorm:"type:decimal(12,6)"`
	Change1hPct    float64 `gorm:"type:decimal(12,6)"`
	VolumeSurgePct float64 `gorm:"type:decimal(14,4)"`
	Score          float64 `gorm:"type:decimal(6,2);not null;index"`
	Direction      string  `gorm:"size:16;not null"`
	Confidence     float64 `gorm:"type:decimal(5,4);not null"`
	BasePrice      float64 `gorm:"type:decimal(20,6);not null"`
	EventTS        int64   `gorm:"not null;index"`
	ComputedTS     int64   `gorm:"not null"`
}

func (ImpactRecord) TableName() string {
	return "impact_records"
}

// Subscription stores webhook subscriptions. Types is comma-separated.
type Subscription struct {
	ID          string `gorm:"primaryKey;size:36"`
	Endpoint    string `gorm:"size:512;not null"`
	MinSeverity string `gorm:"size:16"`
	Types       string `gorm:"size:255"`
	Active      bool   `gorm:"not null;index"`
	CreatedTS   int64  `gorm:"not null"`
	UpdatedTS   int64  `gorm:"not null"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// BeforeCreate hook for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (e *WhaleEvent) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedTS == 0 {
		e.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (p *WhaleProfile) BeforeSave(tx *gorm.DB) error {
	p.UpdatedTS = time.Now().Unix()
	return nil
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (r *ImpactRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ComputedTS == 0 {
		r.ComputedTS = time.Now().Unix()
	}
	return nil
}

func (s *Subscription) BeforeSave(tx *gorm.DB) error {
	s.UpdatedTS = time.Now().Unix()
	if s.CreatedTS == 0 {
		s.CreatedTS = s.UpdatedTS
	}
	return nil
}
