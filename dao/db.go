package dao

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/config"
)

var (
	once     sync.Once
	instance *gorm.DB
)

// GetDB returns the singleton database connection.
func GetDB() *gorm.DB {
	once.Do(func() {
		dbConfig := config.GetConfig().Postgres

		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			dbConfig.Host, dbConfig.User, dbConfig.Password, dbConfig.DBName,
			dbConfig.Port, dbConfig.SSLMode, dbConfig.TimeZone)
		var err error
		instance, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			panic(err)
		}
		maxIdleConns := 5
		maxOpenConns := 10
		sqlDB, err := instance.DB()
		if err != nil {
			panic(err)
		}
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)

		klog.Info("postgres init success")
	})
	return instance
}

// Migrate applies schema migrations. Every process calls this at startup;
// gormigrate records applied ids so the call is idempotent.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250812-gpu-scheduler-init",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&model.GpuJob{},
					&model.TenantGpuPolicy{},
					&model.UsageRecord{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("gpu_jobs", "tenant_gpu_policies", "usage_records")
			},
		},
	})
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
