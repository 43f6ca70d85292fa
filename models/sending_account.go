package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AccountStatus represents the operational state of a sending account
type AccountStatus string

const (
	AccountStatusActive       AccountStatus = "active"
	AccountStatusWarming      AccountStatus = "warming"
	AccountStatusPaused       AccountStatus = "paused"
	AccountStatusLimited      AccountStatus = "limited"
	AccountStatusDisconnected AccountStatus = "disconnected"
)

// Valid checks if the status is valid
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusWarming, AccountStatusPaused,
		AccountStatusLimited, AccountStatusDisconnected:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for AccountStatus
func (s *AccountStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = AccountStatus(v)
	case []byte:
		*s = AccountStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into AccountStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for AccountStatus
func (s AccountStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid AccountStatus: %s", s)
	}
	return string(s), nil
}

// SendingAccount is an email or LinkedIn identity messages go out through.
// Its scheduling config supplies per-account defaults when the campaign
// carries none; the provider account id correlates with the channel provider.
// Table: sending_accounts
type SendingAccount struct {
	ID     string        `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string        `gorm:"size:255;not null" json:"name"`
	Status AccountStatus `gorm:"type:account_status;not null;default:'active';index:idx_sending_accounts_status" json:"status"`

	ProviderAccountID string `gorm:"size:128;not null;index:idx_sending_accounts_provider_account_id" json:"provider_account_id"`

	Scheduling SchedulingConfig `gorm:"embedded" json:"scheduling"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (SendingAccount) TableName() string { return "sending_accounts" }

// SendingAccountFilter provides filter fields for repository queries
type SendingAccountFilter struct {
	ID                *string
	Status            *AccountStatus
	ProviderAccountID *string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
}
