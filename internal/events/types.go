package events

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

type EventType string

const (
	// PermissionGranted is published after a new grant row is committed
	PermissionGranted EventType = "permission.granted"
	// PermissionRevoked is published after a grant is soft-deleted
	PermissionRevoked EventType = "permission.revoked"
	// TemplateApplied is published once per template application
	TemplateApplied EventType = "permission.template_applied"
	// AccessDenied is published when an enforcement point records a denial
	AccessDenied EventType = "permission.access_denied"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

// PermissionChangedEvent announces a grant or revoke so other services
// can drop their session permission caches for the affected entity.
type PermissionChangedEvent struct {
	BaseEvent
	GrantID       string `json:"grant_id"`
	PermissionKey string `json:"permission_key"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Actor         string `json:"actor"`
}

func NewPermissionChangedEvent(eventType EventType, grantID, permissionKey, entityType, entityID, actor string) *PermissionChangedEvent {
	return &PermissionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      eventType,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		GrantID:       grantID,
		PermissionKey: permissionKey,
		EntityType:    entityType,
		EntityID:      entityID,
		Actor:         actor,
	}
}

func (e *PermissionChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

type TemplateAppliedEvent struct {
	BaseEvent
	TemplateID   string   `json:"template_id"`
	TemplateName string   `json:"template_name"`
	Keys         []string `json:"keys"`
	EntityType   string   `json:"entity_type"`
	EntityID     string   `json:"entity_id"`
	Actor        string   `json:"actor"`
}

func NewTemplateAppliedEvent(templateID, templateName string, keys []string, entityType, entityID, actor string) *TemplateAppliedEvent {
	return &TemplateAppliedEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      TemplateApplied,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		TemplateID:   templateID,
		TemplateName: templateName,
		Keys:         keys,
		EntityType:   entityType,
		EntityID:     entityID,
		Actor:        actor,
	}
}

func (e *TemplateAppliedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// UserEvent is the upstream auth/profile services' user payload.
type UserEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// DepartmentMembershipEvent is the departments service's membership payload.
type DepartmentMembershipEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	DepartmentID string `json:"department_id"`
}

// generateEventID generates a unique ID for an event
func generateEventID() string {
	buf := make([]byte, 3)
	rand.Read(buf)
	return time.Now().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
