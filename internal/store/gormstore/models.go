package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserAccount mirrors the users table. Profile fields beyond the ones the
// credit flow touches live in the same row and are written once at signup.
type UserAccount struct {
	UserID    string    `gorm:"primaryKey"`
	FullName  string    `gorm:""`
	Email     string    `gorm:"not null;index"`
	Credits   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserAccount) TableName() string { return "users" }

// CreditTransaction mirrors the credit_transactions table. The unique index
// on session_id is what makes duplicate webhook deliveries harmless.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_credit_tx_user_created,priority:1"`
	SessionID     string         `gorm:"not null;index:uniq_credit_tx_session,unique"`
	BundleName    string         `gorm:""`
	CreditsAdded  int64          `gorm:"not null"`
	AmountCents   int64          `gorm:"not null"`
	Currency      string         `gorm:"not null"`
	Status        string         `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_credit_tx_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}
