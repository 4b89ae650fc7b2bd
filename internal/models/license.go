// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type LicensePlan struct {
	BaseModel
	Name                string       `json:"name" gorm:"uniqueIndex;size:100;not null"`
	Description         string       `json:"description,omitempty" gorm:"type:text"`
	Price               float64      `json:"price" gorm:"type:decimal(10,2);not null"`
	BillingCycle        BillingCycle `json:"billing_cycle" gorm:"type:varchar(20);not null;default:'monthly'"`
	DurationMonths      int          `json:"duration_months" gorm:"not null"`
	IsActive            bool         `json:"is_active" gorm:"not null;default:false"`
	Features            JSONB        `json:"features,omitempty" gorm:"type:jsonb"`
	MaxDevices          int          `json:"max_devices" gorm:"not null"`
	IsTrial             bool         `json:"is_trial" gorm:"not null;default:false"`
	TrialDays           *int         `json:"trial_days,omitempty"`
	AgentCommissionRate float64      `json:"agent_commission_rate" gorm:"type:decimal(5,2);not null;default:0"`
}

// Perpetual reports whether licenses on this plan never expire.
func (p *LicensePlan) Perpetual() bool {
	return p.DurationMonths <= 0
}

// ExpirationFrom returns the expiration for a license activated at t, or nil
// for perpetual plans. Calendar months are added, not a fixed day count.
func (p *LicensePlan) ExpirationFrom(t time.Time) *time.Time {
	if p.Perpetual() {
		return nil
	}
	exp := t.AddDate(0, p.DurationMonths, 0)
	return &exp
}

type License struct {
	BaseModel
	LicenseKey     string        `json:"license_key" gorm:"uniqueIndex;size:64;not null"`
	Status         LicenseStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ActivationDate *time.Time    `json:"activation_date,omitempty"`
	ExpirationDate *time.Time    `json:"expiration_date,omitempty" gorm:"index"`
	IsTrial        bool          `json:"is_trial" gorm:"not null;default:false"`
	Metadata       JSONB         `json:"metadata,omitempty" gorm:"type:jsonb"`
	Notes          string        `json:"notes,omitempty" gorm:"type:text"`
	PlanID         uuid.UUID     `json:"plan_id" gorm:"type:uuid;not null;index"`
	UserID         *uuid.UUID    `json:"user_id,omitempty" gorm:"type:uuid;index"`
	AssignedByID   *uuid.UUID    `json:"assigned_by_id,omitempty" gorm:"type:uuid;index"`

	// Relationships
	Plan       *LicensePlan `json:"plan,omitempty" gorm:"foreignKey:PlanID"`
	User       *User        `json:"user,omitempty" gorm:"foreignKey:UserID"`
	AssignedBy *User        `json:"assigned_by,omitempty" gorm:"foreignKey:AssignedByID"`
}

// IsOverdue reports whether the license has an expiration date before now.
func (l *License) IsOverdue(now time.Time) bool {
	return l.ExpirationDate != nil && now.After(*l.ExpirationDate)
}
