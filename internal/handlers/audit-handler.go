package handlers

import (
	"permission_service/internal/models"
	"permission_service/internal/repository"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type AuditHandler struct {
	auditRepository *repository.AuditRepository
	resolver        *service.ResolverService
}

func NewAuditHandler(resolver *service.ResolverService) *AuditHandler {
	return &AuditHandler{
		auditRepository: repository.Repositories_instance.AuditRepository,
		resolver:        resolver,
	}
}

func (h *AuditHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/protected/permissions/audit", h.ListEntries)
}

// ListEntries serves the compliance view over the append-only audit trail.
func (h *AuditHandler) ListEntries(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, "system.view_logs"); !ok {
		return nil
	}

	filter := repository.AuditFilter{
		Action:        models.AuditAction(fiber.Query(c, "action", "")),
		EntityType:    models.EntityType(fiber.Query(c, "entityType", "")),
		PermissionKey: fiber.Query(c, "permissionKey", ""),
		From:          fiber.Query(c, "from", int64(0)),
		To:            fiber.Query(c, "to", int64(0)),
	}

	if raw := fiber.Query(c, "actor", ""); raw != "" {
		id, err := bson.ObjectIDFromHex(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid actor ID format",
			})
		}
		filter.Actor = id
	}
	if raw := fiber.Query(c, "entityId", ""); raw != "" {
		id, err := bson.ObjectIDFromHex(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity ID format",
			})
		}
		filter.EntityID = id
	}

	page := fiber.Query(c, "page", 1)
	limit := fiber.Query(c, "limit", 50)

	entries, err := h.auditRepository.Find(c.Context(), filter, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"entries": entries,
			"page":    page,
			"limit":   limit,
		},
	})
}
