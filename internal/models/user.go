// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	BaseModel
	Email           string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash    string     `json:"-" gorm:"size:255;not null"`
	FirstName       string     `json:"first_name,omitempty" gorm:"size:100"`
	LastName        string     `json:"last_name,omitempty" gorm:"size:100"`
	PhoneNumber     string     `json:"phone_number,omitempty" gorm:"size:50"`
	Role            UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user';index"`
	IsActive        bool       `json:"is_active" gorm:"not null"`
	AgentID         *uuid.UUID `json:"agent_id,omitempty" gorm:"type:uuid;index"`
	CommissionRate  float64    `json:"commission_rate" gorm:"type:decimal(10,2);not null;default:0"`
	TotalCommission float64    `json:"total_commission" gorm:"type:decimal(12,2);not null;default:0"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`

	// Relationships
	Agent *User `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
