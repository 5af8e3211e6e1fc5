package service

import (
	"context"
	"errors"
	"testing"

	"permission_service/internal/catalog"
	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestTemplateService() (*TemplateService, *fakeTemplates, *fakeGrantStore, *fakeAudit, *fakePublisher) {
	templates := &fakeTemplates{}
	grantSvc, store, audit, _, _ := newTestGrantService()
	publisher := &fakePublisher{}
	svc := &TemplateService{
		templates: templates,
		grants:    grantSvc,
		audit:     audit,
		publisher: publisher,
	}
	return svc, templates, store, audit, publisher
}

func TestTemplateCreate_ValidatesKeysBeforePersisting(t *testing.T) {
	svc, templates, _, _, _ := newTestTemplateService()

	_, err := svc.Create(context.Background(), "Broken", "",
		[]string{"documents.view_all", "documents.view_everything"})
	if !errors.Is(err, catalog.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey, got %v", err)
	}
	if len(templates.templates) != 0 {
		t.Error("An invalid template must not be persisted")
	}
}

func TestTemplateCreate_RequiresNameAndKeys(t *testing.T) {
	svc, _, _, _, _ := newTestTemplateService()

	if _, err := svc.Create(context.Background(), "", "", []string{"documents.view_all"}); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := svc.Create(context.Background(), "Empty", "", nil); err == nil {
		t.Error("Expected error for empty key list")
	}
}

func TestTemplateApply_GrantsEveryKeyWithOneSummaryEntry(t *testing.T) {
	svc, _, store, audit, publisher := newTestTemplateService()
	adminID := bson.NewObjectID()
	userID := bson.NewObjectID()

	template, err := svc.Create(context.Background(), "Viewer", "read-only access",
		[]string{"documents.view_all", "documents.download", "categories.view_all"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	grants, err := svc.Apply(context.Background(), template.ID, models.EntityUser, userID, adminID, RequestMeta{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(grants) != 3 {
		t.Errorf("Expected 3 grants, got %d", len(grants))
	}
	if len(store.grants) != 3 {
		t.Errorf("Expected 3 stored grants, got %d", len(store.grants))
	}

	if got := len(audit.byAction(models.AuditGrant)); got != 3 {
		t.Errorf("Expected 3 per-key grant entries, got %d", got)
	}
	applies := audit.byAction(models.AuditTemplateApply)
	if len(applies) != 1 {
		t.Fatalf("Expected exactly 1 template_apply entry, got %d", len(applies))
	}
	if applies[0].TemplateID != template.ID {
		t.Error("Summary entry must reference the template")
	}

	if template.UsageCount != 1 {
		t.Errorf("Expected usage count 1, got %d", template.UsageCount)
	}
	if publisher.templateApplied != 1 {
		t.Errorf("Expected 1 template_applied event, got %d", publisher.templateApplied)
	}
}

func TestTemplateApply_RetryIsSafe(t *testing.T) {
	svc, _, store, _, _ := newTestTemplateService()
	adminID := bson.NewObjectID()
	deptID := bson.NewObjectID()

	template, err := svc.Create(context.Background(), "Dept Baseline", "",
		[]string{"documents.view_all", "documents.download"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.Apply(context.Background(), template.ID, models.EntityDepartment, deptID, adminID, RequestMeta{}); err != nil {
		t.Fatalf("First apply failed: %v", err)
	}
	if _, err := svc.Apply(context.Background(), template.ID, models.EntityDepartment, deptID, adminID, RequestMeta{}); err != nil {
		t.Fatalf("Second apply failed: %v", err)
	}

	var active int
	for _, g := range store.grants {
		if g.IsActive {
			active++
		}
	}
	if active != 2 {
		t.Errorf("Reapplying must not duplicate grants: expected 2 active, got %d", active)
	}
}

func TestTemplateApply_InactiveTemplateRejected(t *testing.T) {
	svc, _, _, _, _ := newTestTemplateService()
	adminID := bson.NewObjectID()

	template, err := svc.Create(context.Background(), "Retired", "", []string{"documents.view_all"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.Deactivate(context.Background(), template.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	if _, err := svc.Apply(context.Background(), template.ID, models.EntityUser, bson.NewObjectID(), adminID, RequestMeta{}); err == nil {
		t.Error("Expected error applying an inactive template")
	}
}

func TestSeedDefaults_IdempotentAcrossRestarts(t *testing.T) {
	svc, templates, _, _, _ := newTestTemplateService()

	svc.SeedDefaults(context.Background())
	if len(templates.templates) != 3 {
		t.Fatalf("Expected 3 seeded templates, got %d", len(templates.templates))
	}

	svc.SeedDefaults(context.Background())
	if len(templates.templates) != 3 {
		t.Errorf("Second seed run must not duplicate: got %d", len(templates.templates))
	}

	for _, name := range []string{"Document Manager", "Document Viewer", "Department Head"} {
		if _, err := templates.FindByName(context.Background(), name); err != nil {
			t.Errorf("Expected seeded template %q", name)
		}
	}
}
