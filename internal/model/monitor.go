package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Monitor is one user's standing watch on a center.
type Monitor struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	UserID        string        `gorm:"index;not null" json:"userId"`
	ProfileID     string        `gorm:"index;not null" json:"profileId"`
	Center        Center        `gorm:"size:32;not null" json:"center"`
	CheckInterval int           `gorm:"not null;default:5" json:"checkInterval"` // minutes
	AutofillMode  AutofillMode  `gorm:"size:16;not null;default:manual" json:"autofillMode"`
	Status        MonitorStatus `gorm:"size:16;index;not null;default:active" json:"status"`
	LastCheck     *time.Time    `json:"lastCheck"`
	NextCheck     *time.Time    `json:"nextCheck"`
	ErrorCount    int           `gorm:"not null;default:0" json:"errorCount"`
	LastError     string        `gorm:"size:500" json:"lastError"`
	TotalChecks   int           `gorm:"not null;default:0" json:"totalChecks"`
	SlotsFound    int           `gorm:"not null;default:0" json:"slotsFound"`
	LastSlotFound *time.Time    `json:"lastSlotFound"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (m *Monitor) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
