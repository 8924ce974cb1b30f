package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

// Entry is one archived bill.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    string    `gorm:"uniqueIndex;size:36;not null" json:"task_id"`
	Notes     string    `gorm:"type:text" json:"notes"`
	Amount    float32   `gorm:"not null" json:"amount"`
	Category  *string   `gorm:"index;size:64" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Ledger archives bills using GORM.
type Ledger struct {
	db *gorm.DB
}

// New wraps an existing GORM handle. The caller migrates and closes it.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Open creates a SQLite-backed ledger at path and migrates the schema.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: access pool: %w", err)
	}
	// SQLite allows a single writer at a time.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	l := New(db)
	if err := l.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// Migrate creates the necessary tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Record archives one bill under the task that produced it.
func (l *Ledger) Record(ctx context.Context, taskID string, b *bill.Bill) error {
	entry := &Entry{
		TaskID:   taskID,
		Notes:    b.Notes,
		Amount:   b.Amount,
		Category: b.Category,
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("ledger: record %s: %w", taskID, err)
	}
	return nil
}

// Bills returns archived entries, newest first. A limit of zero or
// less returns everything.
func (l *Ledger) Bills(ctx context.Context, limit int) ([]Entry, error) {
	query := l.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger: list bills: %w", err)
	}
	return entries, nil
}

// Total sums every archived amount.
func (l *Ledger) Total(ctx context.Context) (float64, error) {
	var total float64
	err := l.db.WithContext(ctx).
		Model(&Entry{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: total: %w", err)
	}
	return total, nil
}

// FinishHook returns a completion hook that archives every successful
// task. Failures are logged, not surfaced; the task result stays
// retrievable either way.
func (l *Ledger) FinishHook(logger *slog.Logger) func(*task.Record) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(rec *task.Record) {
		result := rec.Result()
		if result == nil {
			return
		}
		if err := l.Record(context.Background(), rec.ID(), result); err != nil {
			logger.Error("failed to archive bill", "task_id", rec.ID(), "error", err)
		}
	}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
