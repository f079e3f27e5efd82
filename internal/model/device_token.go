package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformWeb     Platform = "WEB"
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
)

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PlatformWeb, PlatformIOS, PlatformAndroid:
		return p, true
	}
	return "", false
}

// DeviceToken is a push registration. At most one active token exists per
// (UserID, Platform); tokens are deactivated, never deleted by users.
type DeviceToken struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	Platform  Platform  `json:"platform" db:"platform"`
	UserAgent string    `json:"userAgent,omitempty" db:"user_agent"`
	LastUsed  time.Time `json:"lastUsed" db:"last_used"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type RegisterDeviceTokenRequest struct {
	Token     string `json:"token" validate:"required,max=4096"`
	Platform  string `json:"platform" validate:"required,oneof=WEB IOS ANDROID web ios android"`
	UserAgent string `json:"userAgent" validate:"max=512"`
}

// DeviceTokenStats summarises registrations across all users.
type DeviceTokenStats struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	ByPlatform map[Platform]int `json:"byPlatform"`
}
