package models

import (
	"time"

	"gorm.io/gorm"

	"tourflow/internal/steps"
)

type BaseModel struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

type User struct {
	BaseModel
	Username string `json:"username" gorm:"uniqueIndex;size:100;not null"`
	Email    string `json:"email" gorm:"uniqueIndex;size:100;not null"`
	Password string `json:"-" gorm:"size:255;not null"`
	Avatar   string `json:"avatar" gorm:"size:255"`
	Status   int    `json:"status" gorm:"default:1"` // 1:active, 0:inactive
}

// Site is a product surface that tours are authored against. StartURL is
// where a new recording opens when the tour itself does not override it.
type Site struct {
	BaseModel
	Name        string `json:"name" gorm:"size:100;not null"`
	Description string `json:"description" gorm:"size:500"`
	BaseURL     string `json:"base_url" gorm:"size:500;not null"`
	StartURL    string `json:"start_url" gorm:"size:500"`
	UserID      uint   `json:"user_id" gorm:"not null"`
	User        User   `json:"user" gorm:"foreignKey:UserID"`
	Status      int    `json:"status" gorm:"default:1"`
}

// Viewport rows mirror the built-in browser presets so the frontend can
// list them; the chrome package owns the actual emulation parameters.
type Viewport struct {
	BaseModel
	Name      string `json:"name" gorm:"uniqueIndex;size:100;not null"`
	Width     int    `json:"width" gorm:"not null"`
	Height    int    `json:"height" gorm:"not null"`
	UserAgent string `json:"user_agent" gorm:"size:500"`
	Mobile    bool   `json:"mobile" gorm:"default:false"`
	Touch     bool   `json:"touch" gorm:"default:false"`
	IsDefault bool   `json:"is_default" gorm:"default:false"`
	Status    int    `json:"status" gorm:"default:1"`
}

// Tour health values written by the scheduled lint sweep.
const (
	HealthUnknown = "unknown"
	HealthHealthy = "healthy"
	HealthWarning = "warning"
)

type Tour struct {
	BaseModel
	Name         string     `json:"name" gorm:"size:200;not null"`
	Description  string     `json:"description" gorm:"size:1000"`
	SiteID       uint       `json:"site_id" gorm:"not null"`
	Site         Site       `json:"site" gorm:"foreignKey:SiteID"`
	StartURL     string     `json:"start_url" gorm:"size:500;not null"`
	ViewportID   uint       `json:"viewport_id" gorm:"not null"`
	Viewport     Viewport   `json:"viewport" gorm:"foreignKey:ViewportID"`
	Steps        string     `json:"steps" gorm:"type:longtext"` // JSON format step array
	StepCount    int        `json:"step_count" gorm:"-"`        // Virtual field for list views
	Tags         string     `json:"tags" gorm:"size:500"`
	HealthStatus string     `json:"health_status" gorm:"size:20;default:unknown"` // unknown, healthy, warning
	HealthDetail string     `json:"health_detail" gorm:"type:text"`               // JSON format lint findings
	LintedAt     *time.Time `json:"linted_at"`
	Status       int        `json:"status" gorm:"default:1"` // 1:active, 0:archived
	UserID       uint       `json:"user_id" gorm:"not null"`
	User         User       `json:"user" gorm:"foreignKey:UserID"`
}

func (t *Tour) GetSteps() ([]steps.Step, error) {
	if t.Steps == "" {
		return nil, nil
	}
	return steps.Unmarshal(t.Steps)
}

func (t *Tour) SetSteps(list []steps.Step) error {
	data, err := steps.Marshal(list)
	if err != nil {
		return err
	}
	t.Steps = data
	return nil
}
