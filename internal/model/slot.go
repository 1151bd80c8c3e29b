package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Slot is one discovered appointment opportunity. The unique index on
// (monitor, date, time, center) is the notification dedup boundary.
type Slot struct {
	ID                 string        `gorm:"primaryKey;size:36" json:"id"`
	MonitorID          string        `gorm:"size:36;not null;uniqueIndex:idx_slot_identity" json:"monitorId"`
	SlotDate           time.Time     `gorm:"not null;uniqueIndex:idx_slot_identity" json:"slotDate"`
	SlotTime           string        `gorm:"size:16;not null;default:'';uniqueIndex:idx_slot_identity" json:"slotTime"`
	Center             Center        `gorm:"size:32;not null;uniqueIndex:idx_slot_identity" json:"center"`
	Status             SlotStatus    `gorm:"size:16;not null;default:available;index" json:"status"`
	Notified           bool          `gorm:"not null;default:false" json:"notified"`
	NotifiedAt         *time.Time    `json:"notifiedAt"`
	BookingAttempted   bool          `gorm:"not null;default:false" json:"bookingAttempted"`
	BookingAttemptedAt *time.Time    `json:"bookingAttemptedAt"`
	BookingStatus      BookingStatus `gorm:"size:16" json:"bookingStatus"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (s *Slot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
