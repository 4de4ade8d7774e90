package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"gorm.io/gorm"
)

func createDispatchRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_dispatch_records",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DispatchRecordModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchRecordModel{})
		},
	}
}
