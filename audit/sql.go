package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/runledger/internal/database"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig configures the durable SQL-backed audit store.
type SQLConfig struct {
	// Driver is "postgres", "mysql", or "sqlite".
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// AutoMigrate creates the ledger tables on startup. Production
	// deployments normally run versioned migrations instead.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	// Pool tunes the connection pool. The zero value selects
	// database.DefaultPoolConfig.
	Pool database.PoolConfig `json:"pool" yaml:"pool"`
}

// auditEntryModel is the append-only ledger row. Filterable fields are
// flattened into indexed columns; the full entry, chain fields included,
// is stored as JSON in Payload.
type auditEntryModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	TenantID       string    `gorm:"size:128;not null;uniqueIndex:idx_audit_tenant_seq,priority:1;index:idx_audit_tenant_filter,priority:1"`
	Sequence       int64     `gorm:"not null;uniqueIndex:idx_audit_tenant_seq,priority:2"`
	Timestamp      time.Time `gorm:"not null"`
	ActorType      string    `gorm:"size:64;index:idx_audit_tenant_filter,priority:2"`
	ActionCategory string    `gorm:"size:64;index:idx_audit_tenant_filter,priority:3"`
	OutcomeStatus  string    `gorm:"size:32"`
	HighRisk       bool      `gorm:"not null;default:false"`
	PrevHash       string    `gorm:"size:64"`
	ContentHash    string    `gorm:"size:64;not null"`
	Payload        []byte    `gorm:"not null"`
}

func (auditEntryModel) TableName() string { return "audit_entries" }

// auditChainStateModel is the per-tenant tail pointer. Concurrent
// appenders to the same tenant serialize on this row's lock.
type auditChainStateModel struct {
	TenantID     string `gorm:"primaryKey;size:128"`
	NextSequence int64  `gorm:"not null;default:0"`
	LastHash     string `gorm:"size:64"`
	LastEntryID  string `gorm:"size:64"`
	UpdatedAt    time.Time
}

func (auditChainStateModel) TableName() string { return "audit_chain_state" }

// SQLStore is the durable audit store backed by GORM.
type SQLStore struct {
	db     *gorm.DB
	pool   *database.PoolManager
	logger *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens the database and optionally migrates the ledger
// schema.
func NewSQLStore(cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	poolCfg := cfg.Pool
	if poolCfg == (database.PoolConfig{}) {
		poolCfg = database.DefaultPoolConfig()
	}
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure audit database pool: %w", err)
	}

	store := NewSQLStoreFromDB(db, logger)
	store.pool = pool
	if cfg.AutoMigrate {
		if err := store.Migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an existing GORM handle (used in tests).
func NewSQLStoreFromDB(db *gorm.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("store", "sql_audit")),
	}
}

// Migrate creates or updates the ledger tables.
func (s *SQLStore) Migrate() error {
	if err := s.db.AutoMigrate(&auditEntryModel{}, &auditChainStateModel{}); err != nil {
		return fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return nil
}

// AppendEntries appends inside one transaction, taking a row lock on the
// tenant's chain state so concurrent same-tenant appends serialize while
// other tenants proceed in parallel.
func (s *SQLStore) AppendEntries(ctx context.Context, tenantID string, build ChainFunc) ([]*Entry, error) {
	var appended []*Entry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.lockChainState(tx, tenantID)
		if err != nil {
			return err
		}

		entries, err := build(state.NextSequence, state.LastHash)
		if err != nil {
			return err
		}

		for _, e := range entries {
			row, err := toEntryModel(e)
			if err != nil {
				return err
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert audit entry: %w", err)
			}
		}

		tail := entries[len(entries)-1]
		state.NextSequence = tail.Chain.Sequence + 1
		state.LastHash = tail.Chain.ContentHash
		state.LastEntryID = tail.ID
		state.UpdatedAt = time.Now()
		if err := tx.Save(state).Error; err != nil {
			return fmt.Errorf("failed to update audit chain state: %w", err)
		}

		appended = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// lockChainState loads the tenant's tail row under FOR UPDATE, creating
// it on first append. SQLite serializes writers at the database level, so
// the row lock is skipped there.
func (s *SQLStore) lockChainState(tx *gorm.DB, tenantID string) (*auditChainStateModel, error) {
	q := tx
	if s.db.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var state auditChainStateModel
	err := q.Where("tenant_id = ?", tenantID).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load audit chain state: %w", err)
	}

	state = auditChainStateModel{TenantID: tenantID, UpdatedAt: time.Now()}
	if err := tx.Create(&state).Error; err != nil {
		// A concurrent first append may have created the row; retry
		// the locked read once.
		var retry auditChainStateModel
		if rerr := q.Where("tenant_id = ?", tenantID).First(&retry).Error; rerr != nil {
			return nil, fmt.Errorf("failed to initialize audit chain state: %w", err)
		}
		return &retry, nil
	}
	return &state, nil
}

// GetEntry returns the entry with the given ID, or nil.
func (s *SQLStore) GetEntry(ctx context.Context, id string) (*Entry, error) {
	var row auditEntryModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entry: %w", err)
	}
	return fromEntryModel(&row)
}

// GetEntryBySequence returns one entry of a tenant's chain, or nil.
func (s *SQLStore) GetEntryBySequence(ctx context.Context, tenantID string, seq int64) (*Entry, error) {
	var row auditEntryModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence = ?", tenantID, seq).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entry: %w", err)
	}
	return fromEntryModel(&row)
}

// GetLatestEntry returns the tenant's highest-sequence entry, or nil.
func (s *SQLStore) GetLatestEntry(ctx context.Context, tenantID string) (*Entry, error) {
	var row auditEntryModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest audit entry: %w", err)
	}
	return fromEntryModel(&row)
}

// GetChainSegment returns entries in [startSeq, endSeq] ascending.
func (s *SQLStore) GetChainSegment(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*Entry, error) {
	var rows []auditEntryModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence >= ? AND sequence <= ?", tenantID, startSeq, endSeq).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain segment: %w", err)
	}
	return fromEntryModels(rows)
}

// Query filters by the indexed columns and paginates in SQL.
func (s *SQLStore) Query(ctx context.Context, opts QueryOptions) ([]*Entry, int64, error) {
	q := s.db.WithContext(ctx).
		Model(&auditEntryModel{}).
		Where("tenant_id = ?", opts.TenantID)

	if opts.ActorType != "" {
		q = q.Where("actor_type = ?", opts.ActorType)
	}
	if opts.ActionCategory != "" {
		q = q.Where("action_category = ?", opts.ActionCategory)
	}
	if opts.OutcomeStatus != "" {
		q = q.Where("outcome_status = ?", opts.OutcomeStatus)
	}
	if opts.HighRiskOnly {
		q = q.Where("high_risk = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	order := "sequence DESC"
	if opts.SortOrder == "asc" {
		order = "sequence ASC"
	}
	q = q.Order(order)
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var rows []auditEntryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}

	entries, err := fromEntryModels(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetChainState returns the tenant chain's tail state.
func (s *SQLStore) GetChainState(ctx context.Context, tenantID string) (*ChainState, error) {
	var state auditChainStateModel
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ChainState{TenantID: tenantID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain state: %w", err)
	}
	return &ChainState{
		TenantID:     state.TenantID,
		NextSequence: state.NextSequence,
		LastHash:     state.LastHash,
		LastEntryID:  state.LastEntryID,
		UpdatedAt:    state.UpdatedAt,
	}, nil
}

// Ping checks connectivity to the ledger database.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntryModel(e *Entry) (*auditEntryModel, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return &auditEntryModel{
		ID:             e.ID,
		TenantID:       e.Context.TenantID,
		Sequence:       e.Chain.Sequence,
		Timestamp:      e.Timestamp,
		ActorType:      e.Actor.Type,
		ActionCategory: e.Action.Category,
		OutcomeStatus:  e.Outcome.Status,
		HighRisk:       e.HighRisk,
		PrevHash:       e.Chain.PrevHash,
		ContentHash:    e.Chain.ContentHash,
		Payload:        payload,
	}, nil
}

func fromEntryModel(row *auditEntryModel) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(row.Payload, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry %s: %w", row.ID, err)
	}
	return &e, nil
}

func fromEntryModels(rows []auditEntryModel) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(rows))
	for i := range rows {
		e, err := fromEntryModel(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
