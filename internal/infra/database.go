package infra

import (
	"fmt"

	"cashdrawer/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx, migrates the cash
// tables, then applies the idempotent SQL patches that GORM cannot express
// (partial indexes, check constraints).
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Unique violations surface as gorm.ErrDuplicatedKey.
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates the cash tables and applies schema patches.
// Safe to run on every start and from integration tests.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.CashSession{}, &model.CashMovement{}); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL statements that AutoMigrate cannot
// handle. Each statement is guarded so re-running on a patched DB is a no-op.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		// At most one OPEN session per organization. Concurrent opens that both
		// pass the service check are rejected here.
		{"one open session per organization", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'uq_cash_sessions_open_per_org') THEN
    CREATE UNIQUE INDEX uq_cash_sessions_open_per_org
        ON cash_sessions (organization_id)
        WHERE status = 'OPEN';
  END IF;
END $$`},
		{"cash_sessions status check", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_cash_sessions_status') THEN
    ALTER TABLE cash_sessions
      ADD CONSTRAINT chk_cash_sessions_status CHECK (status IN ('OPEN', 'CLOSED', 'CANCELLED'));
  END IF;
END $$`},
		// Only adjustments may be stored negative; nothing is stored as zero.
		{"cash_movements sign check", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_cash_movements_sign') THEN
    ALTER TABLE cash_movements
      ADD CONSTRAINT chk_cash_movements_sign CHECK (
        type IN ('IN', 'OUT', 'SALE', 'RETURN', 'ADJUSTMENT')
        AND amount <> 0
        AND (type = 'ADJUSTMENT' OR amount > 0));
  END IF;
END $$`},
		{"cash_movements session/created_at index", `
CREATE INDEX IF NOT EXISTS idx_cash_movements_session_created
    ON cash_movements (session_id, created_at)`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
