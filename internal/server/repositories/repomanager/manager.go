// Package repomanager vends repository implementations and owns schema
// migration wiring.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/shigotoin/authcore/internal/dbx"
	"github.com/shigotoin/authcore/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to a DBTX (either the
// pool or an open transaction) and runs migrations at startup.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
