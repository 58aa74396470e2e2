package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialects 列出内置脚本支持的数据库类型
var Dialects = []string{"postgres", "mysql", "sqlite"}

// New 基于已打开的连接构造迁移器，dialect 决定读取哪个脚本目录。
//
// mysql 脚本一个文件包含多条语句，连接必须开启 multiStatements，见 cmd/migrate。
func New(dialect string, db *sql.DB) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "mysql":
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	case "sqlite":
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s migration driver: %w", dialect, err)
	}

	src, err := iofs.New(FS, dialect)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, dialect, driver)
}

// Apply 执行 up 或 down，已是目标版本时不视为错误。
func Apply(m *migrate.Migrate, action string) error {
	var err error
	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// SQLDriverName 返回 database/sql 注册的驱动名
func SQLDriverName(dialect string) string {
	if dialect == "sqlite" {
		return "sqlite3"
	}
	return dialect
}
