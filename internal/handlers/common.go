package handlers

import (
	"errors"
	"log"

	"permission_service/internal/catalog"
	"permission_service/internal/models"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// actorID reads the authenticated principal id the gateway injects.
func actorID(c fiber.Ctx) (bson.ObjectID, error) {
	raw := c.Get("X-User-ID")
	if raw == "" {
		return bson.ObjectID{}, errors.New("missing X-User-ID header")
	}
	return bson.ObjectIDFromHex(raw)
}

func requestMeta(c fiber.Ctx) service.RequestMeta {
	return service.RequestMeta{
		SourceIP:  c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

// requirePermission runs the resolver for the acting principal and writes
// the error/forbidden response itself when the check does not pass. The
// X-User-Permissions header the gateway forwards is a UI cache and is
// deliberately not trusted here. Denials are recorded as access_denied
// audit entries because this is an enforcement point.
func requirePermission(c fiber.Ctx, resolver *service.ResolverService, permissionKey string) (bson.ObjectID, bool) {
	actor, err := actorID(c)
	if err != nil {
		c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing or invalid principal identity",
		})
		return bson.ObjectID{}, false
	}

	decision, err := resolver.Authorize(c.Context(), actor, permissionKey, nil)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownKey) {
			// A bad key at an enforcement point is a deployment bug, not
			// a deny. Surface it loudly.
			log.Printf("Enforcement point referenced unknown permission key %q: %s", permissionKey, err)
			c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "misconfigured permission check",
			})
			return bson.ObjectID{}, false
		}
		c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
		return bson.ObjectID{}, false
	}

	if !decision.Allowed {
		resolver.RecordDenial(c.Context(), actor, permissionKey, nil, requestMeta(c))
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "You don't have permission to perform this action",
			"reason": decision.Reason,
		})
		return bson.ObjectID{}, false
	}

	return actor, true
}

func parseEntityType(raw string) (models.EntityType, bool) {
	entityType := models.EntityType(raw)
	return entityType, entityType.Valid()
}
