package service

import (
	"context"
	"testing"
	"time"

	"permission_service/internal/catalog"
	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestCacheService() (*CacheService, *fakeGrantStore, *fakeUsers, *fakeRedis) {
	store := &fakeGrantStore{}
	users := &fakeUsers{users: map[bson.ObjectID]*models.PortalUser{}}
	redis := newFakeRedis()
	svc := &CacheService{
		grants: store,
		users:  users,
		redis:  redis,
		ttl:    time.Hour,
	}
	return svc, store, users, redis
}

func TestRefresh_AdminGetsFullCatalog(t *testing.T) {
	svc, _, users, _ := newTestCacheService()
	adminID := bson.NewObjectID()
	users.users[adminID] = &models.PortalUser{ID: adminID, Role: models.RoleAdmin, IsActive: true}

	snapshot, err := svc.Refresh(context.Background(), adminID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snapshot.Permissions) != len(catalog.Keys()) {
		t.Errorf("Expected the full catalog (%d keys), got %d", len(catalog.Keys()), len(snapshot.Permissions))
	}
	if !snapshot.Has("system.backup") {
		t.Error("Expected admin snapshot to include system keys")
	}
}

func TestRefresh_MergesDirectAndDepartmentKeys(t *testing.T) {
	svc, store, users, _ := newTestCacheService()
	userID := bson.NewObjectID()
	deptID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{
		ID: userID, Role: models.RoleEmployee, IsActive: true,
		DepartmentIDs: []bson.ObjectID{deptID},
	}
	store.grants = append(store.grants,
		activeGrant(models.EntityUser, userID, "documents.create"),
		activeGrant(models.EntityDepartment, deptID, "documents.view_all"),
		activeGrant(models.EntityDepartment, bson.NewObjectID(), "documents.delete_all"),
	)

	snapshot, err := svc.Refresh(context.Background(), userID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snapshot.Permissions) != 2 {
		t.Fatalf("Expected 2 keys, got %v", snapshot.Permissions)
	}
	if !snapshot.Has("documents.create") || !snapshot.Has("documents.view_all") {
		t.Errorf("Expected direct and inherited keys, got %v", snapshot.Permissions)
	}
	if snapshot.Has("documents.delete_all") {
		t.Error("Foreign department keys must not leak into the snapshot")
	}
}

func TestRefresh_UnknownOrInactiveUserGetsEmptySnapshot(t *testing.T) {
	svc, store, users, _ := newTestCacheService()

	snapshot, err := svc.Refresh(context.Background(), bson.NewObjectID())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snapshot.Permissions) != 0 {
		t.Errorf("Expected empty snapshot for unknown user, got %v", snapshot.Permissions)
	}

	inactiveID := bson.NewObjectID()
	users.users[inactiveID] = &models.PortalUser{ID: inactiveID, Role: models.RoleManager, IsActive: false}
	store.grants = append(store.grants, activeGrant(models.EntityUser, inactiveID, "documents.view_all"))

	snapshot, err = svc.Refresh(context.Background(), inactiveID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snapshot.Permissions) != 0 {
		t.Error("Inactive users keep their rows but get no effective permissions")
	}
}

func TestGetSnapshot_ServesCachedCopyUntilInvalidated(t *testing.T) {
	svc, store, users, _ := newTestCacheService()
	userID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{ID: userID, Role: models.RoleEmployee, IsActive: true}
	store.grants = append(store.grants, activeGrant(models.EntityUser, userID, "documents.view_all"))

	first, err := svc.GetSnapshot(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if !first.Has("documents.view_all") {
		t.Fatal("Expected the granted key in the snapshot")
	}

	// A new grant is not visible through the cached copy.
	store.grants = append(store.grants, activeGrant(models.EntityUser, userID, "documents.create"))
	cached, err := svc.GetSnapshot(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if cached.Has("documents.create") {
		t.Error("Cached snapshot must be served as-is until invalidated")
	}

	svc.InvalidateUser(context.Background(), userID)
	fresh, err := svc.GetSnapshot(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if !fresh.Has("documents.create") {
		t.Error("Invalidation must force a rebuild that sees the new grant")
	}
}

func TestInvalidateEntity_OnlyUserGrantsDropSnapshots(t *testing.T) {
	svc, store, users, redis := newTestCacheService()
	userID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{ID: userID, Role: models.RoleEmployee, IsActive: true}
	store.grants = append(store.grants, activeGrant(models.EntityUser, userID, "documents.view_all"))

	if _, err := svc.GetSnapshot(context.Background(), userID); err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if len(redis.data) != 1 {
		t.Fatalf("Expected 1 cached snapshot, got %d", len(redis.data))
	}

	// Department mutations fan out to unknown sessions; the snapshot stays
	// and ages out via TTL instead.
	svc.InvalidateEntity(context.Background(), models.EntityDepartment, bson.NewObjectID())
	if len(redis.data) != 1 {
		t.Error("Department invalidation must not drop user snapshots directly")
	}

	svc.InvalidateEntity(context.Background(), models.EntityUser, userID)
	if len(redis.data) != 0 {
		t.Error("User invalidation must drop the snapshot")
	}
}
