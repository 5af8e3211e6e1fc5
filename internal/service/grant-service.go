package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"permission_service/internal/catalog"
	"permission_service/internal/events"
	"permission_service/internal/models"
	"permission_service/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// RequestMeta carries the enforcement-point context recorded on audit rows.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}

type grantStore interface {
	Insert(ctx context.Context, grant *models.PermissionGrant) error
	FindEffective(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) (*models.PermissionGrant, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionGrant, error)
	DeactivateExpired(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) error
	Deactivate(ctx context.Context, id bson.ObjectID) error
	FindForEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) ([]*models.PermissionGrant, error)
	FindAll(ctx context.Context, filter repository.GrantFilter, page, limit int) ([]*models.PermissionGrant, error)
}

type auditAppender interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error)
}

type cacheInvalidator interface {
	InvalidateEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID)
}

type mutationPublisher interface {
	PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant, grantedBy bson.ObjectID) error
	PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant, revokedBy bson.ObjectID) error
}

type GrantService struct {
	grants    grantStore
	audit     auditAppender
	cache     cacheInvalidator
	publisher mutationPublisher
}

func NewGrantService(cache *CacheService, publisher *events.EventPublisher) *GrantService {
	return &GrantService{
		grants:    repository.Repositories_instance.GrantRepository,
		audit:     repository.Repositories_instance.AuditRepository,
		cache:     cache,
		publisher: publisher,
	}
}

type GrantRequest struct {
	EntityType    models.EntityType
	EntityID      bson.ObjectID
	PermissionKey string
	GrantedBy     bson.ObjectID
	ExpiresAt     int64
	Notes         string
}

// Grant creates a permission grant, or returns the already-active one for
// the same triple unchanged. Only a genuinely new grant produces an audit
// entry; the idempotent path is silent. The returned bool reports whether
// a new row was created.
func (s *GrantService) Grant(ctx context.Context, req GrantRequest, meta RequestMeta) (*models.PermissionGrant, bool, error) {
	if !req.EntityType.Valid() {
		return nil, false, fmt.Errorf("invalid entity type %q", req.EntityType)
	}

	entry, err := catalog.Lookup(req.PermissionKey)
	if err != nil {
		return nil, false, err
	}

	// Expired rows for the triple still occupy the unique index slot.
	// Retire them before inserting a replacement.
	if err := s.grants.DeactivateExpired(ctx, req.EntityType, req.EntityID, req.PermissionKey); err != nil {
		return nil, false, err
	}

	existing, err := s.grants.FindEffective(ctx, req.EntityType, req.EntityID, req.PermissionKey)
	if err != nil {
		return nil, false, fmt.Errorf("error checking existing grant: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	grant := &models.PermissionGrant{
		PermissionKey: req.PermissionKey,
		Category:      entry.Category,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		GrantedBy:     req.GrantedBy,
		GrantedAt:     time.Now().Unix(),
		ExpiresAt:     req.ExpiresAt,
		IsActive:      true,
		Notes:         req.Notes,
	}

	if err := s.grants.Insert(ctx, grant); err != nil {
		if repository.IsDuplicate(err) {
			// A concurrent grant for the same triple won the index race.
			// Observe and return the winner; no error, no audit entry.
			winner, findErr := s.grants.FindEffective(ctx, req.EntityType, req.EntityID, req.PermissionKey)
			if findErr != nil {
				return nil, false, findErr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, err
	}

	if _, err := s.audit.Append(ctx, &models.AuditLogEntry{
		Actor:         req.GrantedBy,
		Action:        models.AuditGrant,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		PermissionKey: req.PermissionKey,
		SourceIP:      meta.SourceIP,
		UserAgent:     meta.UserAgent,
		Notes:         req.Notes,
	}); err != nil {
		log.Printf("Error appending grant audit entry: %s", err)
	}

	s.afterMutation(ctx, grant)
	if s.publisher != nil {
		if err := s.publisher.PublishPermissionGranted(ctx, grant, req.GrantedBy); err != nil {
			log.Printf("Error publishing permission.granted event: %s", err)
		}
	}

	return grant, true, nil
}

// Revoke soft-deletes a grant. ErrGrantNotFound for an unknown or already
// inactive id; revocation is final, there is no reactivation path.
func (s *GrantService) Revoke(ctx context.Context, grantID, revokedBy bson.ObjectID, notes string, meta RequestMeta) error {
	grant, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		return err
	}
	if grant == nil {
		return repository.ErrGrantNotFound
	}

	if err := s.grants.Deactivate(ctx, grantID); err != nil {
		return err
	}

	if _, err := s.audit.Append(ctx, &models.AuditLogEntry{
		Actor:         revokedBy,
		Action:        models.AuditRevoke,
		EntityType:    grant.EntityType,
		EntityID:      grant.EntityID,
		PermissionKey: grant.PermissionKey,
		SourceIP:      meta.SourceIP,
		UserAgent:     meta.UserAgent,
		Notes:         notes,
	}); err != nil {
		log.Printf("Error appending revoke audit entry: %s", err)
	}

	s.afterMutation(ctx, grant)
	if s.publisher != nil {
		if err := s.publisher.PublishPermissionRevoked(ctx, grant, revokedBy); err != nil {
			log.Printf("Error publishing permission.revoked event: %s", err)
		}
	}

	return nil
}

func (s *GrantService) afterMutation(ctx context.Context, grant *models.PermissionGrant) {
	if s.cache != nil {
		s.cache.InvalidateEntity(ctx, grant.EntityType, grant.EntityID)
	}
}

func (s *GrantService) ListForEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) ([]*models.PermissionGrant, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("invalid entity type %q", entityType)
	}
	return s.grants.FindForEntity(ctx, entityType, entityID)
}

func (s *GrantService) ListAll(ctx context.Context, filter repository.GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	return s.grants.FindAll(ctx, filter, page, limit)
}

// EntityRef names one grant target in a bulk operation.
type EntityRef struct {
	EntityType models.EntityType
	EntityID   bson.ObjectID
}

// BulkGrant grants every key to every entity, leaning on Grant's
// idempotency. Partial failure leaves earlier grants in place; the audit
// trail reflects exactly what succeeded.
func (s *GrantService) BulkGrant(ctx context.Context, entities []EntityRef, keys []string, grantedBy bson.ObjectID, notes string, meta RequestMeta) ([]*models.PermissionGrant, error) {
	if err := catalog.Validate(keys); err != nil {
		return nil, err
	}

	var granted []*models.PermissionGrant
	for _, entity := range entities {
		for _, key := range keys {
			grant, _, err := s.Grant(ctx, GrantRequest{
				EntityType:    entity.EntityType,
				EntityID:      entity.EntityID,
				PermissionKey: key,
				GrantedBy:     grantedBy,
				Notes:         notes,
			}, meta)
			if err != nil {
				return granted, fmt.Errorf("bulk grant failed at %s/%s %s: %w", entity.EntityType, entity.EntityID.Hex(), key, err)
			}
			granted = append(granted, grant)
		}
	}
	return granted, nil
}

// BulkRevoke retires the effective grant for every entity/key pair that has
// one; pairs without an effective grant are skipped. Returns how many grants
// were revoked.
func (s *GrantService) BulkRevoke(ctx context.Context, entities []EntityRef, keys []string, revokedBy bson.ObjectID, notes string, meta RequestMeta) (int, error) {
	if err := catalog.Validate(keys); err != nil {
		return 0, err
	}

	revoked := 0
	for _, entity := range entities {
		if !entity.EntityType.Valid() {
			return revoked, fmt.Errorf("invalid entity type %q", entity.EntityType)
		}
		for _, key := range keys {
			grant, err := s.grants.FindEffective(ctx, entity.EntityType, entity.EntityID, key)
			if err != nil {
				return revoked, err
			}
			if grant == nil {
				continue
			}
			if err := s.Revoke(ctx, grant.ID, revokedBy, notes, meta); err != nil {
				// A concurrent revoke got there first; the outcome stands.
				if errors.Is(err, repository.ErrGrantNotFound) {
					continue
				}
				return revoked, err
			}
			revoked++
		}
	}
	return revoked, nil
}
