package model

import "time"

// PushSubscription is a browser push endpoint registered by a user.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey" json:"endpoint"`
	UserID    string    `gorm:"index;size:64" json:"userId"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	CreatedAt time.Time `json:"createdAt"`
}
