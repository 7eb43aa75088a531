package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/config"
	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const checkpointKey = "scan_checkpoint"

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	// Configure GORM logger
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&WhaleEvent{},
		&WhaleProfile{},
		&Alert{},
		&ImpactRecord{},
		&Subscription{},
	)
}

// observe records query metrics
func observe(op string, start time.Time, err error) {
	metrics.RecordDatabaseQuery(op, time.Since(start), err)
}

// GetState retrieves a state value by key
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var state AppState
	result := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return state.StateValue, nil
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) error {
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).Save(&state).Error
}

// Checkpoint returns the last scanned block, zero when none was saved
func (db *DB) Checkpoint(ctx context.Context) (uint64, error) {
	start := time.Now()
	value, err := db.GetState(ctx, checkpointKey)
	observe("get_checkpoint", start, err)
	if err != nil || value == "" {
		return 0, err
	}
	return strconv.ParseUint(value, 10, 64)
}

// SaveCheckpoint stores the last scanned block
func (db *DB) SaveCheckpoint(ctx context.Context, block uint64) error {
	start := time.Now()
	err := db.SetState(ctx, checkpointKey, strconv.FormatUint(block, 10))
	observe("save_checkpoint", start, err)
	return err
}

// InsertEvents archives events, ignoring ones already stored
func (db *DB) InsertEvents(ctx context.Context, events []whale.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*WhaleEvent, len(events))
	for i, ev := range events {
		records[i] = eventRecord(ev)
	}

	start := time.Now()
	err := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
	observe("insert_events", start, err)
	return err
}

// UpsertProfile inserts or replaces an address profile
func (db *DB) UpsertProfile(ctx context.Context, p *whale.Profile) error {
	start := time.Now()
	err := db.conn.WithContext(ctx).Save(profileRecord(p)).Error
	observe("upsert_profile", start, err)
	return err
}

// InsertAlert archives an alert
func (db *DB) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	rec, err := alertRecord(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	start := time.Now()
	err = db.conn.WithContext(ctx).Create(rec).Error
	observe("insert_alert", start, err)
	return err
}

// InsertImpact archives a correlation result
func (db *DB) InsertImpact(ctx context.Context, m *impact.Metrics) error {
	start := time.Now()
	err := db.conn.WithContext(ctx).Create(impactRecord(m)).Error
	observe("insert_impact", start, err)
	return err
}

// SaveSubscription stores a subscription
func (db *DB) SaveSubscription(sub *alerts.Subscription) error {
	start := time.Now()
	err := db.conn.Save(subscriptionRecord(sub)).Error
	observe("save_subscription", start, err)
	return err
}

// DeactivateSubscription marks a subscription inactive
func (db *DB) DeactivateSubscription(id uuid.UUID) error {
	start := time.Now()
	err := db.conn.Model(&Subscription{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_ts": time.Now().Unix(),
		}).Error
	observe("deactivate_subscription", start, err)
	return err
}

// ActiveSubscriptions loads every active subscription
func (db *DB) ActiveSubscriptions(ctx context.Context) ([]*alerts.Subscription, error) {
	var records []Subscription
	start := time.Now()
	err := db.conn.WithContext(ctx).Where("active = ?", true).Order("created_ts ASC").Find(&records).Error
	observe("list_subscriptions", start, err)
	if err != nil {
		return nil, err
	}

	subs := make([]*alerts.Subscription, 0, len(records))
	for i := range records {
		sub, err := records[i].toSubscription()
		if err != nil {
			db.log.WithError(err).WithField("subscription", records[i].ID).Warn("Skipping malformed subscription")
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
