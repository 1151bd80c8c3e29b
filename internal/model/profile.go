package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile holds the applicant data used to fill booking forms.
// Sensitive columns arrive decrypted; encryption at rest is the database's concern.
type Profile struct {
	ID              string       `gorm:"primaryKey;size:36" json:"id"`
	UserID          string       `gorm:"index;not null" json:"userId"`
	ProfileName     string       `gorm:"not null" json:"profileName"`
	FullName        string       `gorm:"not null" json:"fullName"`
	PassportNumber  string       `gorm:"not null" json:"passportNumber"`
	DateOfBirth     time.Time    `json:"dateOfBirth"`
	Nationality     string       `json:"nationality"`
	Phone           string       `json:"phone"`
	Email           string       `json:"email"`
	VisaCategory    VisaCategory `gorm:"size:32" json:"visaCategory"`
	AppointmentType string       `json:"appointmentType"`
	Center          Center       `gorm:"size:32" json:"center"`
	IsActive        bool         `gorm:"not null;default:true" json:"isActive"`
	PortalEmail     string       `json:"-"`
	PortalPassword  string       `json:"-"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// HasPortalLogin reports whether the profile carries site credentials.
func (p *Profile) HasPortalLogin() bool {
	return p.PortalEmail != "" && p.PortalPassword != ""
}
