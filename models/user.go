package models

import "time"

type UserAccount struct {
	JsonModel
	Name     string   `json:"name"`
	Email    string   `json:"email" gorm:"unique"`
	Password string   `json:"-"`
	Banned   bool     `gorm:"default:false" json:"-"`
	LastIp   string   `json:"-"`
	Platform Platform `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`

	Subscription   Subscription `json:"subscription"`
	ExpirationDate *time.Time   `json:"-"`

	ReceiveNotifications bool `json:"receive_notifications"`
	IsSuperadmin         bool `json:"is_superadmin"`

	// daily try-on quota override, nil means plan default
	EnforcedDailyTryOnLimit *int32 `json:"enforced_daily_try_on_limit"`
	// pin a generation model tier for this account, nil means automatic
	EnforcedModelTier *int32 `json:"enforced_model_tier"`

	AvatarURL string `json:"avatar_url"`
	// full body identity reference for try ons
	PersonImageKey    *string `json:"person_image_key"`
	FullBodyAvatarSet bool    `json:"full_body_avatar_set"`
}

type UserPushToken struct {
	JsonModel
	UserAccountID uint
	UserAccount   UserAccount `json:"user_account"`
	Platform      Platform    `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Token         string      `json:"token"`
	Active        bool        `gorm:"default:false" json:"-"`
}

type UserPushIn struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,platform"`
}

type UserSettingsIn struct {
	ReceiveNotifications bool `json:"receive_notifications"`
}
