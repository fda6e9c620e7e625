package services

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/models"
)

// AuditService writes immutable audit and analytics records. Writes are
// fire-and-forget: a sink failure is logged and never propagated, so it
// can never roll back the state transition being recorded.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// RequestInfo carries caller metadata extracted by the HTTP layer.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// LogAction records an administrative or state-changing action with
// optional before/after snapshots.
func (s *AuditService) LogAction(userID *uuid.UUID, action, resourceType, resourceID string, oldValues, newValues any, req RequestInfo) {
	entry := models.AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    marshalSnapshot(oldValues),
		NewValues:    marshalSnapshot(newValues),
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	}

	if err := s.db.Create(&entry).Error; err != nil {
		log.Printf("audit log write failed (action=%s resource=%s/%s): %v", action, resourceType, resourceID, err)
	}
}

// Event describes one analytics event to record.
type Event struct {
	Type        models.EventType
	UserID      *uuid.UUID
	BookID      *uuid.UUID
	OrderID     *uuid.UUID
	SearchQuery string
	Metadata    any
	Request     RequestInfo
}

// LogEvent records an analytics event.
func (s *AuditService) LogEvent(event Event) {
	record := models.AnalyticsEvent{
		EventType:   event.Type,
		UserID:      event.UserID,
		BookID:      event.BookID,
		OrderID:     event.OrderID,
		SearchQuery: event.SearchQuery,
		IPAddress:   event.Request.IPAddress,
		UserAgent:   event.Request.UserAgent,
		Metadata:    marshalSnapshot(event.Metadata),
	}

	if err := s.db.Create(&record).Error; err != nil {
		log.Printf("analytics event write failed (type=%s): %v", event.Type, err)
	}
}

func marshalSnapshot(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("audit snapshot marshal failed: %v", err)
		return nil
	}
	return data
}
