package events

import (
	"encoding/json"
	"testing"
)

func TestNewPermissionChangedEvent(t *testing.T) {
	event := NewPermissionChangedEvent(PermissionGranted,
		"grant-1", "documents.view_all", "user", "user-1", "admin-1")

	if event.ID == "" {
		t.Error("Expected a generated event ID")
	}
	if event.Type != PermissionGranted {
		t.Errorf("Expected type %q, got %q", PermissionGranted, event.Type)
	}
	if event.Timestamp == 0 {
		t.Error("Expected a timestamp")
	}
	if event.Version != "1.0" {
		t.Errorf("Expected version 1.0, got %q", event.Version)
	}

	raw, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Event JSON is not valid: %v", err)
	}
	if decoded["permission_key"] != "documents.view_all" {
		t.Errorf("Expected permission_key in payload, got %v", decoded["permission_key"])
	}
	if decoded["entity_type"] != "user" {
		t.Errorf("Expected entity_type in payload, got %v", decoded["entity_type"])
	}
}

func TestNewTemplateAppliedEvent(t *testing.T) {
	event := NewTemplateAppliedEvent("tpl-1", "Document Viewer",
		[]string{"documents.view_all", "documents.download"}, "department", "dept-1", "admin-1")

	if event.Type != TemplateApplied {
		t.Errorf("Expected type %q, got %q", TemplateApplied, event.Type)
	}
	if len(event.Keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(event.Keys))
	}

	raw, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var decoded TemplateAppliedEvent
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Round trip failed: %v", err)
	}
	if decoded.TemplateName != "Document Viewer" {
		t.Errorf("Expected template name to survive, got %q", decoded.TemplateName)
	}
}

func TestGenerateEventID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := generateEventID()
		if seen[id] {
			t.Fatalf("Duplicate event ID %q", id)
		}
		seen[id] = true
	}
}
