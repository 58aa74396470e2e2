// Package migrations 内嵌各数据库方言的建表脚本，由 cmd/migrate 通过 golang-migrate 执行。
package migrations

import "embed"

// FS 按方言分目录：postgres、mysql、sqlite
//
//go:embed postgres/*.sql mysql/*.sql sqlite/*.sql
var FS embed.FS
