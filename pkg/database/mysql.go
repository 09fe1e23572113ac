package database

import (
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tourflow/internal/config"
	"tourflow/internal/models"
	"tourflow/pkg/chrome"
)

var DB *gorm.DB

func InitDatabase(cfg *config.Config) error {
	var err error

	dsn := cfg.GetDSN()

	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err = sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connected successfully")

	return AutoMigrate()
}

func AutoMigrate() error {
	err := DB.AutoMigrate(
		&models.User{},
		&models.Site{},
		&models.Viewport{},
		&models.Tour{},
	)

	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Println("Database migration completed")

	return SeedDefaultData()
}

func SeedDefaultData() error {
	// Hashing happens here rather than in pkg/utils because utils already
	// depends on this package.
	var admin models.User
	if err := DB.Where("username = ?", "admin").First(&admin).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			hashed, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash admin password: %w", err)
			}
			admin = models.User{
				Username: "admin",
				Email:    "admin@tourflow.local",
				Password: string(hashed),
				Status:   1,
			}
			if err := DB.Create(&admin).Error; err != nil {
				return fmt.Errorf("failed to create admin user: %w", err)
			}
			log.Println("⚠️ Seeded admin user with the default password, change it after first login")
		}
	}

	// Seed viewport rows from the built-in presets so they are selectable
	// before anyone customizes them.
	for _, p := range chrome.Presets {
		var existing models.Viewport
		if err := DB.Where("name = ?", p.Name).First(&existing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				vp := models.Viewport{
					Name:      p.Name,
					Width:     p.Width,
					Height:    p.Height,
					UserAgent: p.UserAgent,
					Mobile:    p.Mobile,
					Touch:     p.Touch,
					IsDefault: p.Name == chrome.DefaultPresetName,
					Status:    1,
				}
				if err := DB.Create(&vp).Error; err != nil {
					return fmt.Errorf("failed to create viewport %s: %w", p.Name, err)
				}
			}
		}
	}

	// A sample site so a fresh install has something to record against.
	var site models.Site
	if err := DB.Where("name = ?", "Demo Shop").First(&site).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			site = models.Site{
				Name:        "Demo Shop",
				Description: "Sample site for trying out recording and replay",
				BaseURL:     "https://demo.tourflow.local",
				StartURL:    "https://demo.tourflow.local/welcome",
				UserID:      admin.ID,
				Status:      1,
			}
			if err := DB.Create(&site).Error; err != nil {
				return fmt.Errorf("failed to create site %s: %w", site.Name, err)
			}
		}
	}

	log.Println("Default data seeded successfully")
	return nil
}
