package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&User{},
		&Repository{},
		&Branch{},
		&Service{},
		&Commit{},
		&Issue{},
		&Push{},
		&CommitPush{},
		&IssuePush{},
		&Job{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults(db *gorm.DB, defaultServiceName string) error {
	var count int64
	if err := db.Model(&Service{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count services: %w", err)
	}
	if count > 0 {
		return nil
	}

	service := Service{Name: defaultServiceName, Ref: DefaultAncestorBranch}
	if err := db.Create(&service).Error; err != nil {
		return fmt.Errorf("failed to create default service: %w", err)
	}
	log.Printf("Created default service %q", defaultServiceName)
	return nil
}
