// Package dbtest builds throwaway SQLite databases that mirror the Postgres
// ledger schema closely enough for repository and service tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  venue_id INTEGER NOT NULL CHECK (venue_id > 0),
  entry_type TEXT NOT NULL,
  entry_number TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  order_ref TEXT,
  staff_ref TEXT,
  reference_entry_id INTEGER REFERENCES ledger_entries(id),
  description TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  business_date DATETIME NOT NULL,
  previous_entry_id INTEGER REFERENCES ledger_entries(id),
  content_hash TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_entries_venue_prev ON ledger_entries (venue_id, COALESCE(previous_entry_id, 0));`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_entries_venue_number ON ledger_entries (venue_id, entry_number);`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_venue_business_date ON ledger_entries (venue_id, business_date);`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  idempotency_key TEXT NOT NULL,
  venue_id INTEGER NOT NULL,
  fingerprint TEXT NOT NULL,
  state TEXT NOT NULL,
  entry_id INTEGER REFERENCES ledger_entries(id),
  created_at DATETIME,
  expires_at DATETIME NOT NULL,
  CONSTRAINT uq_idempotency_records_key UNIQUE (idempotency_key)
);`,
	`CREATE TABLE IF NOT EXISTS variance_alerts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  venue_id INTEGER NOT NULL,
  business_date DATETIME NOT NULL,
  shift_ref TEXT,
  drawer_ref TEXT,
  expected_cents INTEGER NOT NULL,
  actual_cents INTEGER NOT NULL,
  variance_cents INTEGER NOT NULL,
  variance_percent TEXT,
  severity TEXT NOT NULL,
  entry_id INTEGER REFERENCES ledger_entries(id),
  staff_ref TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  venue_id INTEGER NOT NULL,
  action TEXT NOT NULL,
  order_ref TEXT,
  entry_id INTEGER,
  staff_ref TEXT,
  old_data TEXT,
  new_data TEXT,
  success INTEGER NOT NULL,
  error_message TEXT,
  created_at DATETIME
);`,
}

// NewLedgerDB opens a private in-memory database with the ledger schema applied.
// The pool is pinned to one connection so the memory database lives as long as
// the test and writers queue instead of tripping SQLITE_LOCKED.
func NewLedgerDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
