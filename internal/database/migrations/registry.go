package migrations

import (
	"gorm.io/gorm"

	"github.com/tvcaptd/tvcaptd/internal/history"
)

// AllMigrations returns every migration the daemon applies on startup, in
// registration order. Migrator sorts by Version before applying, so the
// order here only needs to be stable, not chronological.
func AllMigrations() []Migration {
	return []Migration{
		{
			Version:     "0001_history_entries",
			Description: "create history_entries read-cache table",
			Up:          history.AutoMigrateEntry,
			Down: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("history_entries")
			},
		},
	}
}
