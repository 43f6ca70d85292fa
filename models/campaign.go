package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CampaignStatus represents the status of an outreach campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusReady     CampaignStatus = "ready"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusReady, CampaignStatusActive,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// Campaign is the minimal campaign record the queue subsystem needs: pause
// state gates dispatch, and the embedded scheduling config drives slot
// assignment. Content, targeting and performance tracking live upstream.
// Table: campaigns
type Campaign struct {
	ID     string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string         `gorm:"size:255;not null" json:"name"`
	Status CampaignStatus `gorm:"type:campaign_status;not null;default:'draft';index:idx_campaigns_status" json:"status"`

	Scheduling SchedulingConfig `gorm:"embedded" json:"scheduling"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// Dispatchable reports whether entries of this campaign may be claimed
func (c *Campaign) Dispatchable() bool {
	return c.Status == CampaignStatusActive
}

// CampaignFilter provides filter fields for repository queries
type CampaignFilter struct {
	ID            *string
	Name          *string
	Status        *CampaignStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
