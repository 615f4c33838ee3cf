package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"jobmarket/core/events"
	"jobmarket/core/types"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ErrChainBroken is returned by Verify when a stored digest does not match.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Record is one committed ledger event. Hash chains every record to its
// predecessor so rewrites of history are detectable.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	Type       string    `gorm:"index;not null" json:"type"`
	JobID      uint64    `gorm:"index" json:"jobId"`
	Attributes string    `gorm:"type:text;not null" json:"-"`
	PrevHash   string    `gorm:"size:64;not null" json:"prevHash"`
	Hash       string    `gorm:"size:64;uniqueIndex;not null" json:"hash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of gorm's naming strategy.
func (Record) TableName() string { return "market_audit_events" }

// Event decodes the stored attributes back into an event payload.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Open connects to the audit database. DSNs starting with postgres:// or
// postgresql:// use the postgres driver; anything else is a sqlite DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("audit: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	return db, nil
}

// Log appends ledger events to the audit table and implements events.Emitter.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	head string
}

// New migrates the schema and resumes the chain from the newest record.
func New(db *gorm.DB, log *slog.Logger) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	l := &Log{db: db, logger: log, nowFn: func() time.Time { return time.Now().UTC() }, head: genesisHash}
	var last Record
	err := db.Order("seq desc").Limit(1).Take(&last).Error
	switch {
	case err == nil:
		l.head = last.Hash
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("audit: load head: %w", err)
	}
	return l, nil
}

var genesisHash = strings.Repeat("0", 64)

func digest(prev, eventType, attrs string) string {
	hasher := blake3.New(32, nil)
	_, _ = hasher.Write([]byte(prev))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(eventType))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(attrs))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Append stores evt and advances the chain head.
func (l *Log) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	// encoding/json sorts map keys, so the encoding is canonical.
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, err
	}
	jobID, _ := strconv.ParseUint(evt.Attributes["jobId"], 10, 64)

	l.mu.Lock()
	defer l.mu.Unlock()
	record := &Record{
		Type:       evt.Type,
		JobID:      jobID,
		Attributes: string(attrs),
		PrevHash:   l.head,
		Hash:       digest(l.head, evt.Type, string(attrs)),
		CreatedAt:  l.nowFn(),
	}
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("audit: append: %w", err)
	}
	l.head = record.Hash
	return record, nil
}

// Emit implements events.Emitter. Failures are logged, never propagated.
func (l *Log) Emit(evt events.Event) {
	if l == nil || evt == nil || evt.Event() == nil {
		return
	}
	if _, err := l.Append(context.Background(), evt.Event()); err != nil {
		l.logger.Error("audit append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// List returns records with Seq greater than after, oldest first.
func (l *Log) List(ctx context.Context, after uint64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var records []Record
	err := l.db.WithContext(ctx).Where("seq > ?", after).Order("seq asc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return records, nil
}

// ForJob returns every record of a job, oldest first.
func (l *Log) ForJob(ctx context.Context, jobID uint64) ([]Record, error) {
	var records []Record
	err := l.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq asc").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("audit: job history: %w", err)
	}
	return records, nil
}

// Verify walks the entire chain and recomputes every digest.
func (l *Log) Verify(ctx context.Context) error {
	prev := genesisHash
	var after uint64
	for {
		batch, err := l.List(ctx, after, MaxListLimit)
		if err != nil {
			return err
		}
		for _, record := range batch {
			if record.PrevHash != prev || record.Hash != digest(prev, record.Type, record.Attributes) {
				return fmt.Errorf("%w at seq %d", ErrChainBroken, record.Seq)
			}
			prev = record.Hash
			after = record.Seq
		}
		if len(batch) < MaxListLimit {
			return nil
		}
	}
}
