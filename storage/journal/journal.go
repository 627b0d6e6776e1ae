// Package journal persists committed protocol events to a SQL database so the
// API can serve recent activity after a restart.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"floorlend/core/events"
	"floorlend/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrUnsupportedDriver = errors.New("journal: unsupported driver")

// Record is a single committed event.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Account    string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Record) TableName() string { return "journal_events" }

// EventType implements events.Event so stored records can be broadcast.
func (r Record) EventType() string { return r.Type }

// Decoded returns the attribute map of the record.
func (r Record) Decoded() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	Type    string
	Account string
	Limit   int
}

// Journal implements events.Emitter on top of gorm. Every stored record is
// also broadcast to live subscribers.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	feed   *events.Broadcaster

	mu       sync.Mutex
	failures uint64
}

// Open connects to the journal database and migrates its schema. For the
// sqlite driver dsn is a file path or ":memory:".
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if dialector.Name() == DriverSQLite {
		// sqlite admits one writer at a time.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("journal: open: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, log)
}

// New wraps an existing connection.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log, now: time.Now, feed: events.NewBroadcaster(0)}, nil
}

// Emit stores evt. The protocol only forwards committed events, so a write
// failure is logged and counted rather than surfaced.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if err := j.Append(context.Background(), evt); err != nil {
		j.mu.Lock()
		j.failures++
		j.mu.Unlock()
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns once the row is written.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	record := Record{
		ID:        uuid.New(),
		Type:      evt.EventType(),
		CreatedAt: j.now().UTC(),
	}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok && payload.Event() != nil {
		attrs := payload.Event().Attributes
		record.Account = accountOf(attrs)
		if len(attrs) > 0 {
			encoded, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			record.Attributes = string(encoded)
		}
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	j.feed.Emit(record)
	return nil
}

// Subscribe notifies the caller of each record stored from now on. Records
// missed by a slow subscriber remain readable through Since.
func (j *Journal) Subscribe(ctx context.Context) (<-chan events.Event, func()) {
	return j.feed.Subscribe(ctx)
}

// List returns the newest records matching f, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	if err := j.query(ctx, f).Order("seq DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Since returns the records matching f with a sequence above after, oldest
// first.
func (j *Journal) Since(ctx context.Context, after uint64, f Filter) ([]Record, error) {
	var out []Record
	if err := j.query(ctx, f).Where("seq > ?", after).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Journal) query(ctx context.Context, f Filter) *gorm.DB {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := j.db.WithContext(ctx).Model(&Record{}).Limit(limit)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Account != "" {
		query = query.Where("account = ?", strings.ToLower(f.Account))
	}
	return query
}

// Failures reports how many events could not be written.
func (j *Journal) Failures() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// accountOf picks the account an event concerns for indexing.
func accountOf(attrs map[string]string) string {
	for _, key := range []string{"account", "caller", "recipient"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
