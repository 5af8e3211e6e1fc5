package handlers

import (
	"errors"
	"log"

	"permission_service/internal/catalog"
	"permission_service/internal/models"
	"permission_service/internal/repository"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var grantOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permission_grant_operations_total",
		Help: "Total number of grant/revoke operations",
	},
	[]string{"operation", "status"}, // operation: grant/revoke/bulk, status: created/idempotent/failed
)

type PermissionHandler struct {
	grantService *service.GrantService
	resolver     *service.ResolverService
}

func NewPermissionHandler(grantService *service.GrantService, resolver *service.ResolverService) *PermissionHandler {
	return &PermissionHandler{
		grantService: grantService,
		resolver:     resolver,
	}
}

func (h *PermissionHandler) RegisterRoutes(app *fiber.App) {
	group := app.Group("/protected/permissions")

	group.Get("/catalog", h.GetCatalog)
	group.Post("/grants", h.GrantPermission)
	group.Post("/grants/bulk", h.BulkGrant)
	group.Post("/grants/bulk-revoke", h.BulkRevoke)
	group.Delete("/grants/:id", h.RevokePermission)
	group.Get("/grants", h.ListGrants)
	group.Get("/entities/:entityType/:entityId", h.ListForEntity)
}

// GetCatalog returns the fixed permission catalog grouped by category, for
// the admin UI's pickers.
func (h *PermissionHandler) GetCatalog(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"data": catalog.All(),
	})
}

func (h *PermissionHandler) GrantPermission(c fiber.Ctx) error {
	actor, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey)
	if !ok {
		return nil
	}

	var request struct {
		EntityType    string `json:"entityType"`
		EntityID      string `json:"entityId"`
		PermissionKey string `json:"permissionKey"`
		ExpiresAt     int64  `json:"expiresAt"`
		Notes         string `json:"notes"`
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

	grant, created, err := h.grantService.Grant(c.Context(), service.GrantRequest{
		EntityType:    entityType,
		EntityID:      entityID,
		PermissionKey: request.PermissionKey,
		GrantedBy:     actor,
		ExpiresAt:     request.ExpiresAt,
		Notes:         request.Notes,
	}, requestMeta(c))
	if err != nil {
		grantOperations.WithLabelValues("grant", "failed").Inc()
		if errors.Is(err, catalog.ErrUnknownKey) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
		grantOperations.WithLabelValues("grant", "created").Inc()
	} else {
		grantOperations.WithLabelValues("grant", "idempotent").Inc()
	}

	log.Printf("User %s granted %s to %s/%s (created: %t)", actor.Hex(), request.PermissionKey, entityType, entityID.Hex(), created)

	return c.Status(status).JSON(fiber.Map{
		"data":    grant,
		"created": created,
	})
}

func (h *PermissionHandler) BulkGrant(c fiber.Ctx) error {
	actor, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey)
	if !ok {
		return nil
	}

	var request struct {
		Entities []struct {
			EntityType string `json:"entityType"`
			EntityID   string `json:"entityId"`
		} `json:"entities"`
		PermissionKeys []string `json:"permissionKeys"`
		Notes          string   `json:"notes"`
	}
	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(request.Entities) == 0 || len(request.PermissionKeys) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entities and permission keys are required",
		})
	}

	refs := make([]service.EntityRef, 0, len(request.Entities))
	for _, entity := range request.Entities {
		entityType, ok := parseEntityType(entity.EntityType)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity type",
			})
		}
		entityID, err := bson.ObjectIDFromHex(entity.EntityID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity ID format",
			})
		}
		refs = append(refs, service.EntityRef{EntityType: entityType, EntityID: entityID})
	}

	granted, err := h.grantService.BulkGrant(c.Context(), refs, request.PermissionKeys, actor, request.Notes, requestMeta(c))
	if err != nil {
		grantOperations.WithLabelValues("bulk", "failed").Inc()
		if errors.Is(err, catalog.ErrUnknownKey) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		// Partial results are real grants; report both.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"data":  granted,
		})
	}

	grantOperations.WithLabelValues("bulk", "created").Inc()
	log.Printf("User %s bulk-granted %d keys to %d entities", actor.Hex(), len(request.PermissionKeys), len(refs))

	return c.JSON(fiber.Map{
		"data": granted,
	})
}

func (h *PermissionHandler) BulkRevoke(c fiber.Ctx) error {
	actor, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey)
	if !ok {
		return nil
	}

	var request struct {
		Entities []struct {
			EntityType string `json:"entityType"`
			EntityID   string `json:"entityId"`
		} `json:"entities"`
		PermissionKeys []string `json:"permissionKeys"`
		Notes          string   `json:"notes"`
	}
	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(request.Entities) == 0 || len(request.PermissionKeys) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entities and permission keys are required",
		})
	}

	refs := make([]service.EntityRef, 0, len(request.Entities))
	for _, entity := range request.Entities {
		entityType, ok := parseEntityType(entity.EntityType)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity type",
			})
		}
		entityID, err := bson.ObjectIDFromHex(entity.EntityID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity ID format",
			})
		}
		refs = append(refs, service.EntityRef{EntityType: entityType, EntityID: entityID})
	}

	revoked, err := h.grantService.BulkRevoke(c.Context(), refs, request.PermissionKeys, actor, request.Notes, requestMeta(c))
	if err != nil {
		grantOperations.WithLabelValues("bulk_revoke", "failed").Inc()
		if errors.Is(err, catalog.ErrUnknownKey) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   err.Error(),
			"revoked": revoked,
		})
	}

	grantOperations.WithLabelValues("bulk_revoke", "created").Inc()
	log.Printf("User %s bulk-revoked %d grants across %d entities", actor.Hex(), revoked, len(refs))

	return c.JSON(fiber.Map{
		"revoked": revoked,
	})
}

func (h *PermissionHandler) RevokePermission(c fiber.Ctx) error {
	actor, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey)
	if !ok {
		return nil
	}

	grantID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid grant ID format",
		})
	}

	var request struct {
		Notes string `json:"notes"`
	}
	// Body is optional on revoke.
	_ = c.Bind().Body(&request)

	err = h.grantService.Revoke(c.Context(), grantID, actor, request.Notes, requestMeta(c))
	if err != nil {
		if errors.Is(err, repository.ErrGrantNotFound) {
			grantOperations.WithLabelValues("revoke", "failed").Inc()
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		grantOperations.WithLabelValues("revoke", "failed").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	grantOperations.WithLabelValues("revoke", "created").Inc()
	log.Printf("User %s revoked grant %s", actor.Hex(), grantID.Hex())

	return c.JSON(fiber.Map{
		"message": "Grant revoked",
	})
}

func (h *PermissionHandler) ListGrants(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey); !ok {
		return nil
	}

	page := fiber.Query(c, "page", 1)
	limit := fiber.Query(c, "limit", 50)

	filter := repository.GrantFilter{
		Category:      c.Query("category"),
		PermissionKey: c.Query("permissionKey"),
		ActiveOnly:    fiber.Query(c, "activeOnly", false),
		From:          fiber.Query[int64](c, "from", 0),
		To:            fiber.Query[int64](c, "to", 0),
	}
	if raw := c.Query("entityType"); raw != "" {
		entityType, ok := parseEntityType(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity type",
			})
		}
		filter.EntityType = entityType
	}
	if raw := c.Query("entityId"); raw != "" {
		entityID, err := bson.ObjectIDFromHex(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid entity ID format",
			})
		}
		filter.EntityID = entityID
	}

	grants, err := h.grantService.ListAll(c.Context(), filter, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": grants,
	})
}

// ListForEntity returns the effective grants for one entity, for the admin
// UI's per-user/per-department panels.
func (h *PermissionHandler) ListForEntity(c fiber.Ctx) error {
	if _, ok := requirePermission(c, h.resolver, catalog.ManagePermissionsKey); !ok {
		return nil
	}

	entityType, ok := parseEntityType(c.Params("entityType"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity type",
		})
	}

	entityID, err := bson.ObjectIDFromHex(c.Params("entityId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity ID format",
		})
	}

	grants, err := h.grantService.ListForEntity(c.Context(), entityType, entityID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if grants == nil {
		grants = []*models.PermissionGrant{}
	}
	return c.JSON(fiber.Map{
		"data": grants,
	})
}
