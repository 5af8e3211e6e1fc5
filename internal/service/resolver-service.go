package service

import (
	"context"
	"log"

	"permission_service/internal/catalog"
	"permission_service/internal/events"
	"permission_service/internal/models"
	"permission_service/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	ReasonAdminOverride  = "admin role override"
	ReasonDirectGrant    = "direct grant"
	ReasonInheritedGrant = "inherited grant"
	ReasonNoGrant        = "no matching grant"
	ReasonNoPrincipal    = "unknown or inactive principal"
)

type grantLookup interface {
	FindEffective(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) (*models.PermissionGrant, error)
	AnyEffective(ctx context.Context, entityType models.EntityType, entityIDs []bson.ObjectID, key string) (bool, error)
}

type principalLookup interface {
	FindByID(ctx context.Context, id bson.ObjectID) (*models.PortalUser, error)
}

type denialPublisher interface {
	PublishAccessDenied(ctx context.Context, principalID bson.ObjectID, permissionKey string) error
}

// ResolverService is the single authorization decision point. Every
// enforcement-critical check in the portal lands here; the client cache is
// advisory only.
type ResolverService struct {
	grants    grantLookup
	users     principalLookup
	audit     auditAppender
	publisher denialPublisher
}

func NewResolverService(publisher *events.EventPublisher) *ResolverService {
	return &ResolverService{
		grants:    repository.Repositories_instance.GrantRepository,
		users:     repository.Repositories_instance.PortalUserRepository,
		audit:     repository.Repositories_instance.AuditRepository,
		publisher: publisher,
	}
}

// Authorize decides allow/deny for a principal and permission key. Order:
// admin role override, direct user grant, inherited department/category
// grant, deny. A deny is a normal Decision, never an error; an unknown
// permission key is an error, never a deny.
func (s *ResolverService) Authorize(ctx context.Context, principalID bson.ObjectID, permissionKey string, entityCtx *models.EntityContext) (models.Decision, error) {
	if _, err := catalog.Lookup(permissionKey); err != nil {
		return models.Decision{}, err
	}

	principal, err := s.users.FindByID(ctx, principalID)
	if err != nil {
		return models.Decision{}, err
	}
	if principal == nil || !principal.IsActive {
		return models.Decision{Allowed: false, Reason: ReasonNoPrincipal}, nil
	}

	// The admin bypass is a function of the role field, checked before any
	// grant lookup. It cannot be revoked through the grant API.
	if principal.IsAdmin() {
		log.Printf("Privileged access: admin %s for %s", principalID.Hex(), permissionKey)
		return models.Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}

	direct, err := s.grants.FindEffective(ctx, models.EntityUser, principalID, permissionKey)
	if err != nil {
		return models.Decision{}, err
	}
	if direct != nil {
		return models.Decision{Allowed: true, Reason: ReasonDirectGrant}, nil
	}

	departmentIDs, categoryID := inheritanceScope(principal, entityCtx)
	if len(departmentIDs) > 0 {
		inherited, err := s.grants.AnyEffective(ctx, models.EntityDepartment, departmentIDs, permissionKey)
		if err != nil {
			return models.Decision{}, err
		}
		if inherited {
			return models.Decision{Allowed: true, Reason: ReasonInheritedGrant}, nil
		}
	}
	if !categoryID.IsZero() {
		inherited, err := s.grants.AnyEffective(ctx, models.EntityCategory, []bson.ObjectID{categoryID}, permissionKey)
		if err != nil {
			return models.Decision{}, err
		}
		if inherited {
			return models.Decision{Allowed: true, Reason: ReasonInheritedGrant}, nil
		}
	}

	return models.Decision{Allowed: false, Reason: ReasonNoGrant}, nil
}

// inheritanceScope picks which department/category entities count for
// inherited grants. A caller-supplied context wins because the calling
// service already resolved what the principal is acting on; it is still
// intersected with the principal's own memberships so a context cannot
// borrow a foreign department's grants. Without a context the principal's
// memberships apply.
func inheritanceScope(principal *models.PortalUser, entityCtx *models.EntityContext) ([]bson.ObjectID, bson.ObjectID) {
	if entityCtx == nil {
		return principal.DepartmentIDs, bson.ObjectID{}
	}

	departmentIDs := principal.DepartmentIDs
	if len(entityCtx.DepartmentIDs) > 0 {
		departmentIDs = nil
		for _, id := range entityCtx.DepartmentIDs {
			if principal.MemberOf(id) {
				departmentIDs = append(departmentIDs, id)
			}
		}
	}
	return departmentIDs, entityCtx.CategoryID
}

// RecordDenial appends the access_denied audit entry for a deny that an
// enforcement point chose to surface. Callers own this step so that only
// real enforcement denials land in the log, not speculative UI probes.
func (s *ResolverService) RecordDenial(ctx context.Context, principalID bson.ObjectID, permissionKey string, entityCtx *models.EntityContext, meta RequestMeta) {
	entry := &models.AuditLogEntry{
		Actor:         principalID,
		Action:        models.AuditAccessDenied,
		EntityType:    models.EntityUser,
		EntityID:      principalID,
		PermissionKey: permissionKey,
		SourceIP:      meta.SourceIP,
		UserAgent:     meta.UserAgent,
	}
	if entityCtx != nil && !entityCtx.CategoryID.IsZero() {
		entry.EntityType = models.EntityCategory
		entry.EntityID = entityCtx.CategoryID
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		log.Printf("Error appending access_denied audit entry: %s", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishAccessDenied(ctx, principalID, permissionKey); err != nil {
			log.Printf("Error publishing permission.access_denied event: %s", err)
		}
	}
}
