// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the primary key on the client so the same schema works
// on PostgreSQL and SQLite.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserRole string

const (
	UserRoleSuperAdmin UserRole = "super_admin"
	UserRoleAgent      UserRole = "agent"
	UserRoleUser       UserRole = "user"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleSuperAdmin, UserRoleAgent, UserRoleUser:
		return true
	}
	return false
}

type LicenseStatus string

const (
	LicenseStatusPending LicenseStatus = "pending"
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusPending, LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked:
		return true
	}
	return false
}

type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleBiannual  BillingCycle = "biannual"
	BillingCycleAnnual    BillingCycle = "annual"
	BillingCycleOneTime   BillingCycle = "one_time"
)

type TransactionType string

const (
	TransactionTypeLicensePurchase  TransactionType = "license_purchase"
	TransactionTypeLicenseRenewal   TransactionType = "license_renewal"
	TransactionTypeCommissionPayout TransactionType = "commission_payout"
	TransactionTypeRefund           TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)
