package handlers

import (
	"errors"

	"permission_service/internal/catalog"
	"permission_service/internal/repository"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type TemplateHandler struct {
	templateService *service.TemplateService
	resolver        *service.ResolverService
}

func NewTemplateHandler(templateService *service.TemplateService, resolver *service.ResolverService) *TemplateHandler {
	return &TemplateHandler{
		templateService: templateService,
		resolver:        resolver,
	}
}

func (h *TemplateHandler) RegisterRoutes(app *fiber.App) {
	group := app.Group("/protected/permissions/templates")
	group.Get("/", h.ListTemplates)
	group.Post("/", h.CreateTemplate)
	group.Get("/:id", h.GetTemplate)
	group.Delete("/:id", h.DeactivateTemplate)
	group.Post("/:id/apply", h.ApplyTemplate)
}

func (h *TemplateHandler) ListTemplates(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, "system.manage_templates"); !ok {
		return nil
	}

	page := fiber.Query(c, "page", 1)
	limit := fiber.Query(c, "limit", 20)

	templates, err := h.templateService.List(c.Context(), page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"templates": templates,
			"page":      page,
			"limit":     limit,
		},
	})
}

func (h *TemplateHandler) CreateTemplate(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, "system.manage_templates"); !ok {
		return nil
	}

	var request struct {
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		PermissionKeys []string `json:"permissionKeys"`
	}
	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	template, err := h.templateService.Create(c.Context(), request.Name, request.Description, request.PermissionKeys)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownKey) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": template,
	})
}

func (h *TemplateHandler) GetTemplate(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, "system.manage_templates"); !ok {
		return nil
	}

	templateID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template ID format",
		})
	}

	template, err := h.templateService.Get(c.Context(), templateID)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Template not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": template,
	})
}

func (h *TemplateHandler) DeactivateTemplate(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, "system.manage_templates"); !ok {
		return nil
	}

	templateID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template ID format",
		})
	}

	if err := h.templateService.Deactivate(c.Context(), templateID); err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Template not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Template deactivated successfully",
	})
}

// ApplyTemplate stamps every key in the template onto one entity. Applying
// changes live permissions, so it is gated on the grant permission rather
// than the template-editing one.
func (h *TemplateHandler) ApplyTemplate(c fiber.Ctx) error {
	actor, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey)
	if !ok {
		return nil
	}

	templateID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template ID format",
		})
	}

	var request struct {
		EntityType string `json:"entityType"`
		EntityID   string `json:"entityId"`
	}
	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	entityType, ok := parseEntityType(request.EntityType)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity type",
		})
	}

	entityID, err := bson.ObjectIDFromHex(request.EntityID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity ID format",
		})
	}

	grants, err := h.templateService.Apply(c.Context(), templateID, entityType, entityID, actor, requestMeta(c))
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Template not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Template applied successfully",
		"data": fiber.Map{
			"grants": grants,
		},
	})
}
