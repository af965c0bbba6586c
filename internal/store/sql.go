package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// jobRow is the GORM model of a job record. Status and timestamps are
// denormalized out of the JSON record for indexing.
type jobRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"size:255"`
	Status        string    `gorm:"size:16;index"`
	SchemaVersion int       `gorm:"not null"`
	Record        []byte    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (jobRow) TableName() string {
	return "pipeline_jobs"
}

func rowFromRecord(rec Record) jobRow {
	return jobRow{
		ID:            string(rec.ID),
		Name:          rec.Name,
		Status:        rec.Status.String(),
		SchemaVersion: SchemaVersion,
		Record:        rec.Data,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (r jobRow) toRecord() Record {
	status, _ := contracts.ParseJobStatus(r.Status)
	return Record{
		ID:        contracts.JobID(r.ID),
		Name:      r.Name,
		Status:    status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Data:      r.Record,
	}
}

// SQLOptions configures the SQL backend.
type SQLOptions struct {
	// Driver is one of "sqlite", "mysql", "postgres".
	Driver string
	DSN    string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// Logger receives GORM logs. Defaults to silent.
	Logger gormlogger.Interface
}

// SQLBackend stores records in a relational table through GORM.
// Per-job updates run in a transaction that locks the row (FOR UPDATE where
// the dialect supports it) and are additionally serialized in-process.
type SQLBackend struct {
	db    *gorm.DB
	locks *keyedMutex
}

// OpenSQL connects to the database and migrates the jobs table.
func OpenSQL(opts SQLOptions) (*SQLBackend, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(opts.DSN)
	case "mysql":
		dialector = mysql.Open(opts.DSN)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q: %w", opts.Driver, contracts.ErrInvalidInput)
	}

	logger := opts.Logger
	if logger == nil {
		logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", opts.Driver, contracts.ErrStorage, err)
	}
	return NewSQLBackend(db, opts)
}

// NewSQLBackend wraps an existing connection and migrates the jobs table.
func NewSQLBackend(db *gorm.DB, opts SQLOptions) (*SQLBackend, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql pool: %w: %w", contracts.ErrStorage, err)
	}
	if opts.Driver == "sqlite" || opts.Driver == "" {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, fmt.Errorf("migrate jobs table: %w: %w", contracts.ErrStorage, err)
	}
	return &SQLBackend{db: db, locks: newKeyedMutex()}, nil
}

// NewSQL creates a SQL-backed JobStore.
func NewSQL(opts SQLOptions, storeOpts ...Option) (contracts.JobStore, error) {
	b, err := OpenSQL(opts)
	if err != nil {
		return nil, err
	}
	return New(b, storeOpts...), nil
}

func (s *SQLBackend) Insert(ctx context.Context, rec Record) error {
	row := rowFromRecord(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storageErr("insert", rec.ID, err)
	}
	return nil
}

func (s *SQLBackend) Update(ctx context.Context, id contracts.JobID, fn func(Record) (Record, error)) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", string(id)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(id)
		}
		if err != nil {
			return storageErr("load", id, err)
		}

		next, err := fn(row.toRecord())
		if err != nil {
			return err
		}

		err = tx.Model(&jobRow{}).Where("id = ?", string(id)).Updates(map[string]any{
			"status":         next.Status.String(),
			"schema_version": SchemaVersion,
			"record":         next.Data,
			"updated_at":     next.UpdatedAt,
		}).Error
		if err != nil {
			return storageErr("update", id, err)
		}
		return nil
	})
}

func (s *SQLBackend) Load(ctx context.Context, id contracts.JobID) (Record, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, storageErr("load", id, err)
	}
	return row.toRecord(), nil
}

func (s *SQLBackend) Scan(ctx context.Context) ([]Record, error) {
	var rows []jobRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan jobs: %w: %w", contracts.ErrStorage, err)
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (s *SQLBackend) Remove(ctx context.Context, id contracts.JobID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&jobRow{}).Error; err != nil {
		return storageErr("delete", id, err)
	}
	return nil
}

func (s *SQLBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
