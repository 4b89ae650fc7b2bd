// internal/models/device.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	BaseModel
	Name         string     `json:"name" gorm:"size:255;not null"`
	DeviceID     string     `json:"device_id" gorm:"uniqueIndex;size:255;not null"`
	Platform     string     `json:"platform" gorm:"size:100;not null"`
	OSVersion    *string    `json:"os_version,omitempty" gorm:"size:100"`
	AppVersion   *string    `json:"app_version,omitempty" gorm:"size:100"`
	Metadata     JSONB      `json:"metadata,omitempty" gorm:"type:jsonb"`
	UserID       uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	LicenseID    *uuid.UUID `json:"license_id,omitempty" gorm:"type:uuid;index"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`

	// Relationships
	User    *User    `json:"user,omitempty" gorm:"foreignKey:UserID"`
	License *License `json:"license,omitempty" gorm:"foreignKey:LicenseID"`
}
