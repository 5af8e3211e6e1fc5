package service

import (
	"context"
	"fmt"
	"log"

	"permission_service/internal/catalog"
	"permission_service/internal/events"
	"permission_service/internal/models"
	"permission_service/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type templateStore interface {
	Create(ctx context.Context, template *models.PermissionTemplate) (*models.PermissionTemplate, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionTemplate, error)
	FindByName(ctx context.Context, name string) (*models.PermissionTemplate, error)
	FindAll(ctx context.Context, page, limit int) ([]*models.PermissionTemplate, error)
	IncrementUsage(ctx context.Context, id bson.ObjectID) error
	Deactivate(ctx context.Context, id bson.ObjectID) error
}

type templatePublisher interface {
	PublishTemplateApplied(ctx context.Context, template *models.PermissionTemplate, entityType models.EntityType, entityID, appliedBy bson.ObjectID) error
}

type TemplateService struct {
	templates templateStore
	grants    *GrantService
	audit     auditAppender
	publisher templatePublisher
}

func NewTemplateService(grants *GrantService, publisher *events.EventPublisher) *TemplateService {
	return &TemplateService{
		templates: repository.Repositories_instance.TemplateRepository,
		grants:    grants,
		audit:     repository.Repositories_instance.AuditRepository,
		publisher: publisher,
	}
}

// Create validates every key against the catalog before anything is
// persisted; the first unknown key aborts the whole creation.
func (s *TemplateService) Create(ctx context.Context, name, description string, permissionKeys []string) (*models.PermissionTemplate, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if len(permissionKeys) == 0 {
		return nil, fmt.Errorf("template requires at least one permission key")
	}
	if err := catalog.Validate(permissionKeys); err != nil {
		return nil, err
	}

	return s.templates.Create(ctx, &models.PermissionTemplate{
		Name:           name,
		Description:    description,
		PermissionKeys: permissionKeys,
	})
}

// Apply grants each of the template's keys to the entity, reusing Grant's
// idempotency, then appends one template_apply audit entry summarizing the
// operation. The per-key grant entries underneath remain available for
// drill-down. Apply is not atomic: a mid-way failure keeps the grants that
// already landed, and a retry is safe.
func (s *TemplateService) Apply(ctx context.Context, templateID bson.ObjectID, entityType models.EntityType, entityID, appliedBy bson.ObjectID, meta RequestMeta) ([]*models.PermissionGrant, error) {
	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !template.IsActive {
		return nil, fmt.Errorf("template %q is inactive", template.Name)
	}

	var granted []*models.PermissionGrant
	for _, key := range template.PermissionKeys {
		grant, _, err := s.grants.Grant(ctx, GrantRequest{
			EntityType:    entityType,
			EntityID:      entityID,
			PermissionKey: key,
			GrantedBy:     appliedBy,
			Notes:         fmt.Sprintf("applied from template %q", template.Name),
		}, meta)
		if err != nil {
			return granted, fmt.Errorf("template apply failed at key %q: %w", key, err)
		}
		granted = append(granted, grant)
	}

	if _, err := s.audit.Append(ctx, &models.AuditLogEntry{
		Actor:      appliedBy,
		Action:     models.AuditTemplateApply,
		EntityType: entityType,
		EntityID:   entityID,
		TemplateID: template.ID,
		SourceIP:   meta.SourceIP,
		UserAgent:  meta.UserAgent,
		Notes:      fmt.Sprintf("template %q: %d keys", template.Name, len(template.PermissionKeys)),
	}); err != nil {
		log.Printf("Error appending template_apply audit entry: %s", err)
	}

	if err := s.templates.IncrementUsage(ctx, template.ID); err != nil {
		log.Printf("Error incrementing template usage: %s", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTemplateApplied(ctx, template, entityType, entityID, appliedBy); err != nil {
			log.Printf("Error publishing permission.template_applied event: %s", err)
		}
	}

	return granted, nil
}

func (s *TemplateService) Get(ctx context.Context, id bson.ObjectID) (*models.PermissionTemplate, error) {
	return s.templates.FindByID(ctx, id)
}

func (s *TemplateService) List(ctx context.Context, page, limit int) ([]*models.PermissionTemplate, error) {
	return s.templates.FindAll(ctx, page, limit)
}

func (s *TemplateService) Deactivate(ctx context.Context, id bson.ObjectID) error {
	return s.templates.Deactivate(ctx, id)
}

// SeedDefaults creates the portal's stock templates when they are missing.
// Safe to run on every startup.
func (s *TemplateService) SeedDefaults(ctx context.Context) {
	defaults := []struct {
		name        string
		description string
		keys        []string
	}{
		{
			name:        "Document Manager",
			description: "Full document management permissions including create, edit, delete, and approve",
			keys: []string{
				"documents.view_all", "documents.create", "documents.edit_all",
				"documents.delete_all", "documents.approve", "documents.share",
				"documents.download", "categories.view_all", "categories.create",
				"categories.edit", "categories.assign",
			},
		},
		{
			name:        "Document Viewer",
			description: "Basic document viewing and downloading permissions",
			keys:        []string{"documents.view_all", "documents.download", "categories.view_all"},
		},
		{
			name:        "Department Head",
			description: "Department management and user oversight permissions",
			keys: []string{
				"documents.view_all", "documents.create", "documents.approve",
				"documents.share", "departments.view_all", "departments.assign_users",
				"departments.view_employees", "departments.manage_budget",
				"users.view_all", "users.edit", "categories.view_all",
			},
		},
	}

	for _, d := range defaults {
		if existing, _ := s.templates.FindByName(ctx, d.name); existing != nil {
			continue
		}
		if _, err := s.Create(ctx, d.name, d.description, d.keys); err != nil {
			log.Printf("Error seeding template %q: %s", d.name, err)
		} else {
			log.Printf("Seeded default template %q", d.name)
		}
	}
}
