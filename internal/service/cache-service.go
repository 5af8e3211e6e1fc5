package service

import (
	"context"
	"log"
	"sort"
	"time"

	"permission_service/internal/catalog"
	"permission_service/internal/config"
	"permission_service/internal/models"
	"permission_service/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PermissionSnapshot is the wholesale per-principal mirror of resolver
// answers handed to UI sessions. It controls what the UI offers, never
// what the backend permits.
type PermissionSnapshot struct {
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
	RefreshedAt int64    `json:"refreshedAt"`
}

func (s *PermissionSnapshot) Has(key string) bool {
	for _, k := range s.Permissions {
		if k == key {
			return true
		}
	}
	return false
}

type snapshotKeysFinder interface {
	FindKeysForEntities(ctx context.Context, userID bson.ObjectID, departmentIDs []bson.ObjectID) ([]string, error)
}

type snapshotCache interface {
	SaveStructCached(ctx context.Context, key string, model any, ttl time.Duration) error
	GetStructCached(ctx context.Context, key string, model any) error
	DeleteKey(ctx context.Context, key string) error
}

type CacheService struct {
	grants snapshotKeysFinder
	users  principalLookup
	redis  snapshotCache
	ttl    time.Duration
}

func NewCacheService() *CacheService {
	return &CacheService{
		grants: repository.Repositories_instance.GrantRepository,
		users:  repository.Repositories_instance.PortalUserRepository,
		redis:  repository.Repositories_instance.RedisRepository,
		ttl:    time.Duration(config.ServiceConfig.CacheTTLHours) * time.Hour,
	}
}

func cacheKey(userID bson.ObjectID) string {
	return repository.PermissionSnapshotKey(userID)
}

// GetSnapshot returns the cached snapshot for a principal, building and
// caching a fresh one on miss.
func (s *CacheService) GetSnapshot(ctx context.Context, userID bson.ObjectID) (*PermissionSnapshot, error) {
	var snapshot PermissionSnapshot
	if err := s.redis.GetStructCached(ctx, cacheKey(userID), &snapshot); err == nil {
		return &snapshot, nil
	}
	return s.Refresh(ctx, userID)
}

// Refresh rebuilds the snapshot from the store, replacing any cached one.
// Admins get the whole catalog, matching the portal's fixed admin
// expansion; everyone else gets their direct plus department-inherited
// keys.
func (s *CacheService) Refresh(ctx context.Context, userID bson.ObjectID) (*PermissionSnapshot, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var keys []string
	switch {
	case user == nil || !user.IsActive:
		keys = []string{}
	case user.IsAdmin():
		keys = catalog.Keys()
	default:
		keys, err = s.grants.FindKeysForEntities(ctx, userID, user.DepartmentIDs)
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
	}

	snapshot := &PermissionSnapshot{
		UserID:      userID.Hex(),
		Permissions: keys,
		RefreshedAt: time.Now().Unix(),
	}

	if err := s.redis.SaveStructCached(ctx, cacheKey(userID), snapshot, s.ttl); err != nil {
		log.Printf("Error caching permission snapshot for %s: %s", userID.Hex(), err)
	}
	return snapshot, nil
}

// InvalidateUser drops a principal's snapshot; the next read rebuilds it.
func (s *CacheService) InvalidateUser(ctx context.Context, userID bson.ObjectID) {
	if err := s.redis.DeleteKey(ctx, cacheKey(userID)); err != nil {
		log.Printf("Error invalidating permission snapshot for %s: %s", userID.Hex(), err)
	}
}

// InvalidateEntity handles a mutation on any grant target. User grants map
// to one snapshot. Department and category grants fan out to an unknown
// set of sessions; those are announced on the event bus and otherwise age
// out with the TTL, which is safe because the cache is never consulted for
// enforcement.
func (s *CacheService) InvalidateEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) {
	if entityType == models.EntityUser {
		s.InvalidateUser(ctx, entityID)
		return
	}
	log.Printf("Permission change on %s/%s, relying on event broadcast and TTL for session caches", entityType, entityID.Hex())
}
