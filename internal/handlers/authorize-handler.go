package handlers

import (
	"errors"
	"log"

	"permission_service/internal/catalog"
	"permission_service/internal/models"
	"permission_service/internal/repository"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	authorizeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_authorize_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"outcome", "reason"},
	)

	authorizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "permission_authorize_duration_seconds",
			Help:    "Time spent resolving authorization decisions",
			Buckets: prometheus.DefBuckets,
		},
	)
)

type AuthorizeHandler struct {
	resolver     *service.ResolverService
	cacheService *service.CacheService
	jwtService   *service.JWTService
}

func NewAuthorizeHandler(resolver *service.ResolverService, cacheService *service.CacheService, jwtService *service.JWTService) *AuthorizeHandler {
	return &AuthorizeHandler{
		resolver:     resolver,
		cacheService: cacheService,
		jwtService:   jwtService,
	}
}

func (h *AuthorizeHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Service-to-service decision endpoint; not exposed through the
	// public gateway.
	app.Post("/internal/permissions/check", h.Check)

	group := app.Group("/protected/permissions/me")
	group.Get("/", h.MyPermissions)
	group.Post("/refresh", h.RefreshMyPermissions)
}

// Check is the enforcement endpoint other portal services call before
// serving or mutating a resource. Deny is an ordinary 200 response with
// allowed=false; only unknown keys and infrastructure failures are errors.
func (h *AuthorizeHandler) Check(c fiber.Ctx) error {
	var request struct {
		PrincipalID   string `json:"principalId"`
		PermissionKey string `json:"permissionKey"`
		EntityContext *struct {
			DepartmentIDs []string `json:"departmentIds"`
			CategoryID    string   `json:"categoryId"`
		} `json:"entityContext"`
		RecordDenial bool `json:"recordDenial"`
	}
	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	principalID, err := bson.ObjectIDFromHex(request.PrincipalID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid principal ID format",
		})
	}

	var entityCtx *models.EntityContext
	if request.EntityContext != nil {
		entityCtx = &models.EntityContext{}
		for _, raw := range request.EntityContext.DepartmentIDs {
			id, err := bson.ObjectIDFromHex(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid department ID format",
				})
			}
			entityCtx.DepartmentIDs = append(entityCtx.DepartmentIDs, id)
		}
		if request.EntityContext.CategoryID != "" {
			id, err := bson.ObjectIDFromHex(request.EntityContext.CategoryID)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid category ID format",
				})
			}
			entityCtx.CategoryID = id
		}
	}

	timer := prometheus.NewTimer(authorizeDuration)
	decision, err := h.resolver.Authorize(c.Context(), principalID, request.PermissionKey, entityCtx)
	timer.ObserveDuration()

	if err != nil {
		if errors.Is(err, catalog.ErrUnknownKey) {
			// Fail closed and loud: a typoed key at a call site must not
			// masquerade as a legitimate denial.
			authorizeDecisions.WithLabelValues("error", "unknown_key").Inc()
			log.Printf("Authorize called with unknown permission key: %s", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if decision.Allowed {
		authorizeDecisions.WithLabelValues("allow", decision.Reason).Inc()
	} else {
		authorizeDecisions.WithLabelValues("deny", decision.Reason).Inc()
		if request.RecordDenial {
			h.resolver.RecordDenial(c.Context(), principalID, request.PermissionKey, entityCtx, requestMeta(c))
		}
	}

	return c.JSON(fiber.Map{
		"data": decision,
	})
}

// MyPermissions returns the session's cached permission snapshot plus a
// signed mirror token. The snapshot drives what the UI offers; the
// backend re-checks everything through the resolver.
func (h *AuthorizeHandler) MyPermissions(c fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing or invalid principal identity",
		})
	}

	snapshot, err := h.cacheService.GetSnapshot(c.Context(), actor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return h.respondWithSnapshot(c, actor, snapshot)
}

// RefreshMyPermissions rebuilds the snapshot wholesale. The UI calls this
// after any mutation it performs and when the backend denies an action the
// cache still showed as allowed.
func (h *AuthorizeHandler) RefreshMyPermissions(c fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing or invalid principal identity",
		})
	}

	snapshot, err := h.cacheService.Refresh(c.Context(), actor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return h.respondWithSnapshot(c, actor, snapshot)
}

func (h *AuthorizeHandler) respondWithSnapshot(c fiber.Ctx, actor bson.ObjectID, snapshot *service.PermissionSnapshot) error {
	user, err := repository.Repositories_instance.PortalUserRepository.FindByID(c.Context(), actor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	username, role := "", ""
	if user != nil {
		username, role = user.Username, user.Role
	}

	token, err := h.jwtService.GenerateSnapshotToken(actor.Hex(), username, role, snapshot.Permissions)
	if err != nil {
		log.Printf("Error generating snapshot token for %s: %s", actor.Hex(), err)
		// The snapshot itself is still useful without the token.
		return c.JSON(fiber.Map{
			"data": snapshot,
		})
	}

	return c.JSON(fiber.Map{
		"data":  snapshot,
		"token": token,
	})
}
