package history

import (
	"gorm.io/gorm"
)

// Entry is the gorm model backing the sqlite read cache: one row per
// history.Record, queryable/paginated by the admin HTTP surface without
// touching the XML journal.
type Entry struct {
	ID             uint `gorm:"primarykey"`
	Title          string
	TimestampStart int64 `gorm:"index"`
	TimestampEnd   int64
	FilePath       string
	FileDir        string
	Profile        string
}

// TableName names the history read-cache table explicitly, matching the
// rest of the schema's snake_case convention.
func (Entry) TableName() string { return "history_entries" }

// GormCache is the Cache implementation backing Ledger with a gorm
// connection (normally *internal/database.DB's embedded *gorm.DB).
type GormCache struct {
	db *gorm.DB
}

// NewGormCache wraps db as a history read cache. Callers must AutoMigrate
// Entry (or run it through internal/database/migrations) before use.
func NewGormCache(db *gorm.DB) *GormCache {
	return &GormCache{db: db}
}

// Append inserts one row for r.
func (c *GormCache) Append(r Record) error {
	return c.db.Create(&Entry{
		Title:          r.Title,
		TimestampStart: r.TimestampStart.Unix(),
		TimestampEnd:   r.TimestampEnd.Unix(),
		FilePath:       r.FilePath,
		FileDir:        r.FileDir,
		Profile:        r.Profile,
	}).Error
}

// Rebuild replaces every row with records, used after loading the
// authoritative XML journal on startup so the cache never diverges.
func (c *GormCache) Rebuild(records []Record) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Entry{}).Error; err != nil {
			return err
		}
		for _, r := range records {
			if err := tx.Create(&Entry{
				Title:          r.Title,
				TimestampStart: r.TimestampStart.Unix(),
				TimestampEnd:   r.TimestampEnd.Unix(),
				FilePath:       r.FilePath,
				FileDir:        r.FileDir,
				Profile:        r.Profile,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns the most recent n rows, newest first, for the admin HTTP
// surface's paginated history listing.
func (c *GormCache) Recent(n int) ([]Entry, error) {
	var entries []Entry
	q := c.db.Order("timestamp_start DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// AutoMigrateEntry is the migration step history registers with
// internal/database/migrations.Migrator.
func AutoMigrateEntry(tx *gorm.DB) error {
	return tx.AutoMigrate(&Entry{})
}
