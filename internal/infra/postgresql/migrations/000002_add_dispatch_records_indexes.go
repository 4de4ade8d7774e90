package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDispatchRecordsIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_dispatch_records_indexes",
		Migrate: func(tx *gorm.DB) error {
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_dispatch_records_created_id ON dispatch_records (created_at, id)`,
				`CREATE INDEX IF NOT EXISTS idx_dispatch_records_pending ON dispatch_records (created_at) WHERE status = 'pending'`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			for _, name := range []string{"idx_dispatch_records_created_id", "idx_dispatch_records_pending"} {
				if err := tx.Exec(`DROP INDEX IF EXISTS ` + name).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
