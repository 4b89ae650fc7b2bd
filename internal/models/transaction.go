// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Transaction struct {
	BaseModel
	Type             TransactionType   `json:"type" gorm:"type:varchar(30);not null;index"`
	Status           TransactionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Amount           float64           `json:"amount" gorm:"type:decimal(12,2);not null"`
	Currency         string            `json:"currency" gorm:"size:3;not null;default:'USD'"`
	Description      string            `json:"description,omitempty" gorm:"type:text"`
	Metadata         JSONB             `json:"metadata,omitempty" gorm:"type:jsonb"`
	LicenseID        *uuid.UUID        `json:"license_id,omitempty" gorm:"type:uuid;index"`
	UserID           uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	AgentID          *uuid.UUID        `json:"agent_id,omitempty" gorm:"type:uuid;index"`
	CommissionAmount *float64          `json:"commission_amount,omitempty" gorm:"type:decimal(10,2)"`
	CommissionRate   *float64          `json:"commission_rate,omitempty" gorm:"type:decimal(5,2)"`
	CommissionPaid   bool              `json:"commission_paid" gorm:"not null;default:false"`
	CommissionPaidAt *time.Time        `json:"commission_paid_at,omitempty"`

	// Relationships
	License *License `json:"license,omitempty" gorm:"foreignKey:LicenseID"`
	User    *User    `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Agent   *User    `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
}
