package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Agihtaws/arbminidefi/native/lending"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrDSNRequired is returned when no journal database is configured.
var ErrDSNRequired = errors.New("journal dsn must be configured")

// Entry is one committed ledger event.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Type       string            `gorm:"index;not null"`
	Account    string            `gorm:"index;size:42"`
	Asset      string            `gorm:"size:8"`
	Attributes map[string]string `gorm:"serializer:json"`
	OccurredAt time.Time         `gorm:"index"`
	CreatedAt  time.Time
}

// TableName pins the table name regardless of naming strategy.
func (Entry) TableName() string { return "ledger_events" }

// Query filters History. Zero fields match everything.
type Query struct {
	Account lending.Account
	Type    string
	Since   time.Time
	Limit   int
}

// Journal records ledger events in a SQL database and serves account
// history. It implements lending.EventSink.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the database named by dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log.With(slog.String("component", "journal")), now: time.Now}, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == "":
		return nil, ErrDSNRequired
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return postgres.Open(trimmed), nil
	default:
		return sqlite.Open(trimmed), nil
	}
}

// Emit stores the event. Failures are logged; the ledger has already
// committed and the journal is not authoritative.
func (j *Journal) Emit(ev lending.Event) {
	if err := j.Record(context.Background(), ev); err != nil {
		j.logger.Error("journal write failed", slog.String("event", ev.Type), slog.Any("error", err))
	}
}

// Record stores the event and returns the persisted entry's error.
func (j *Journal) Record(ctx context.Context, ev lending.Event) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	occurred := ev.Time
	if occurred.IsZero() {
		occurred = j.now()
	}
	entry := Entry{
		ID:         uuid.New(),
		Type:       ev.Type,
		Account:    accountKey(ev.Account),
		Asset:      ev.Asset,
		Attributes: ev.Attributes,
		OccurredAt: occurred.UTC(),
	}
	if entry.Attributes == nil {
		entry.Attributes = map[string]string{}
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// History returns matching entries, newest first.
func (j *Journal) History(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{})
	if q.Account != (lending.Account{}) {
		tx = tx.Where("account = ?", accountKey(q.Account))
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("occurred_at >= ?", q.Since.UTC())
	}
	var entries []Entry
	if err := tx.Order("occurred_at DESC").Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func accountKey(account lending.Account) string {
	if account == (lending.Account{}) {
		return ""
	}
	return strings.ToLower(account.Hex())
}
