// Package testsupport opens throwaway SQLite databases with the service schema.
package testsupport

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/leadcore/internal/migration"
	"gorm.io/gorm"
)

// OpenDB returns an in-memory database named after the test with the full
// schema applied. The pool holds one connection so writers serialize.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = conn.Exec("PRAGMA busy_timeout = 5000").Error
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
