package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// eventModel maps to the "tool_audit_events" table.
// No UpdatedAt or DeletedAt: the trail is append-only.
type eventModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	CorrelationID string `gorm:"index"`
	CallID        string
	Tool          string `gorm:"not null;index"`
	Args          string `gorm:"type:text;not null;default:'{}'"`
	Kind          string `gorm:"not null"`
	Summary       string `gorm:"type:text"`
	DurationMS    int64
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

func (eventModel) TableName() string { return "tool_audit_events" }

// Store is a Sink backed by a GORM database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite audit database at path.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
func OpenSQLite(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(slogger))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return newStore(db, slogger, "sqlite")
}

// OpenPostgres connects to PostgreSQL and migrates the audit table.
func OpenPostgres(dsn string, slogger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(slogger))
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	// One CLI run writes sequentially.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return newStore(db, slogger, "postgres")
}

func gormConfig(slogger *slog.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			slogAdapter{slogger},
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func newStore(db *gorm.DB, slogger *slog.Logger, driver string) (*Store, error) {
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating audit table: %w", err)
	}
	slogger.Debug("audit store ready", slog.String("driver", driver))
	return &Store{db: db, logger: slogger}, nil
}

// Record inserts a single event. This is the only write method.
func (s *Store) Record(ctx context.Context, event Event) error {
	model, err := toModel(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Query returns recorded events, newest first. If correlationID is
// non-empty, filters to that run. Limit defaults to 100.
func (s *Store) Query(ctx context.Context, correlationID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if correlationID != "" {
		q = q.Where("correlation_id = ?", correlationID)
	}

	var models []eventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	events := make([]Event, len(models))
	for i := range models {
		e, err := toEvent(&models[i])
		if err != nil {
			return nil, err
		}
		events[i] = e
	}
	return events, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(e Event) (eventModel, error) {
	args := []byte("{}")
	if len(e.Args) > 0 {
		var err error
		if args, err = json.Marshal(e.Args); err != nil {
			return eventModel{}, fmt.Errorf("marshaling audit args: %w", err)
		}
	}
	return eventModel{
		ID:            e.ID,
		CorrelationID: e.CorrelationID,
		CallID:        e.CallID,
		Tool:          e.Tool,
		Args:          string(args),
		Kind:          e.Kind,
		Summary:       e.Summary,
		DurationMS:    e.DurationMS,
		Error:         e.Error,
		CreatedAt:     e.Time,
	}, nil
}

func toEvent(m *eventModel) (Event, error) {
	e := Event{
		ID:            m.ID,
		Time:          m.CreatedAt,
		CorrelationID: m.CorrelationID,
		CallID:        m.CallID,
		Tool:          m.Tool,
		Kind:          m.Kind,
		Summary:       m.Summary,
		DurationMS:    m.DurationMS,
		Error:         m.Error,
	}
	if err := json.Unmarshal([]byte(m.Args), &e.Args); err != nil {
		return Event{}, fmt.Errorf("decoding args of audit event %s: %w", m.ID, err)
	}
	return e, nil
}

// slogAdapter routes GORM's logger through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}

var (
	_ Sink    = (*Store)(nil)
	_ Sink    = (*FileSink)(nil)
	_ Querier = (*Store)(nil)
	_ Querier = (*FileSink)(nil)
)
