package model

import "time"

// Settings holds a user's notification channels and CAPTCHA preference.
type Settings struct {
	UserID                string    `gorm:"primaryKey;size:64" json:"userId"`
	EmailNotifications    bool      `gorm:"not null;default:true" json:"emailNotifications"`
	EmailAddress          string    `json:"emailAddress"`
	SMSNotifications      bool      `gorm:"column:sms_notifications;not null;default:false" json:"smsNotifications"`
	PhoneNumber           string    `json:"phoneNumber"`
	WhatsAppNotifications bool      `gorm:"column:whatsapp_notifications;not null;default:false" json:"whatsappNotifications"`
	WhatsAppNumber        string    `gorm:"column:whatsapp_number" json:"whatsappNumber"`
	TelegramNotifications bool      `gorm:"not null;default:false" json:"telegramNotifications"`
	TelegramChatID        string    `json:"telegramChatId"`
	SlackNotifications    bool      `gorm:"not null;default:false" json:"slackNotifications"`
	SlackWebhookURL       string    `json:"slackWebhookUrl"`
	PushNotifications     bool      `gorm:"not null;default:true" json:"pushNotifications"`
	CaptchaEnabled        bool      `gorm:"not null;default:true" json:"captchaEnabled"`
	CaptchaAPIKey         string    `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}
