package models

import (
	"github.com/google/uuid"
)

// AnalyticsEvent is an immutable record of one tracked action, written by
// the audit service and read by the admin dashboard.
type AnalyticsEvent struct {
	BaseModel
	EventType EventType `gorm:"index" json:"event_type"`

	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	SessionID string     `json:"session_id"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`

	BookID      *uuid.UUID `gorm:"type:uuid;index" json:"book_id"`
	OrderID     *uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	SearchQuery string     `json:"search_query"`

	Metadata []byte `gorm:"type:jsonb" json:"metadata"`
}

// AuditLog records an administrative or state-changing action with
// before/after snapshots where applicable.
type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	User         *User      `json:"user,omitempty"`
	Action       string     `gorm:"index" json:"action"`
	ResourceType string     `gorm:"index" json:"resource_type"`
	ResourceID   string     `json:"resource_id"`

	OldValues []byte `gorm:"type:jsonb" json:"old_values"`
	NewValues []byte `gorm:"type:jsonb" json:"new_values"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// SystemSetting is an admin-managed key/value pair for site-level options.
// Gateway credentials deliberately live in environment configuration, not
// here.
type SystemSetting struct {
	BaseModel
	Key         string `gorm:"uniqueIndex" json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	SettingType string `gorm:"default:string" json:"setting_type"`
}
