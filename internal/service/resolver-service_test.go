package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"permission_service/internal/catalog"
	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestResolver() (*ResolverService, *fakeGrantStore, *fakeUsers, *fakeAudit, *fakePublisher) {
	store := &fakeGrantStore{}
	users := &fakeUsers{users: map[bson.ObjectID]*models.PortalUser{}}
	audit := &fakeAudit{}
	publisher := &fakePublisher{}
	svc := &ResolverService{
		grants:    store,
		users:     users,
		audit:     audit,
		publisher: publisher,
	}
	return svc, store, users, audit, publisher
}

func activeGrant(entityType models.EntityType, entityID bson.ObjectID, key string) *models.PermissionGrant {
	return &models.PermissionGrant{
		ID:            bson.NewObjectID(),
		PermissionKey: key,
		EntityType:    entityType,
		EntityID:      entityID,
		IsActive:      true,
		GrantedAt:     time.Now().Unix(),
	}
}

func TestAuthorize_AdminOverrideWithoutAnyGrant(t *testing.T) {
	svc, _, users, _, _ := newTestResolver()
	adminID := bson.NewObjectID()
	users.users[adminID] = &models.PortalUser{ID: adminID, Role: models.RoleAdmin, IsActive: true}

	decision, err := svc.Authorize(context.Background(), adminID, "system.backup", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("Expected admin to be allowed with zero grant rows")
	}
	if decision.Reason != ReasonAdminOverride {
		t.Errorf("Expected reason %q, got %q", ReasonAdminOverride, decision.Reason)
	}
}

func TestAuthorize_DirectGrant(t *testing.T) {
	svc, store, users, _, _ := newTestResolver()
	userID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{ID: userID, Role: models.RoleEmployee, IsActive: true}
	store.grants = append(store.grants, activeGrant(models.EntityUser, userID, "documents.create"))

	decision, err := svc.Authorize(context.Background(), userID, "documents.create", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Reason != ReasonDirectGrant {
		t.Errorf("Expected direct-grant allow, got %+v", decision)
	}
}

func TestAuthorize_InheritedFromDepartmentMembership(t *testing.T) {
	svc, store, users, _, _ := newTestResolver()
	userID := bson.NewObjectID()
	deptID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{
		ID: userID, Role: models.RoleEmployee, IsActive: true,
		DepartmentIDs: []bson.ObjectID{deptID},
	}
	store.grants = append(store.grants, activeGrant(models.EntityDepartment, deptID, "documents.view_all"))

	decision, err := svc.Authorize(context.Background(), userID, "documents.view_all", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Reason != ReasonInheritedGrant {
		t.Errorf("Expected inherited allow, got %+v", decision)
	}
}

func TestAuthorize_ContextIntersectsMemberships(t *testing.T) {
	svc, store, users, _, _ := newTestResolver()
	userID := bson.NewObjectID()
	memberDept := bson.NewObjectID()
	foreignDept := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{
		ID: userID, Role: models.RoleEmployee, IsActive: true,
		DepartmentIDs: []bson.ObjectID{memberDept},
	}
	store.grants = append(store.grants,
		activeGrant(models.EntityDepartment, memberDept, "documents.edit_all"),
		activeGrant(models.EntityDepartment, foreignDept, "documents.delete_all"),
	)

	// Context naming the principal's own department: its grant applies.
	decision, err := svc.Authorize(context.Background(), userID, "documents.edit_all",
		&models.EntityContext{DepartmentIDs: []bson.ObjectID{memberDept}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("Expected allow through the principal's own department context")
	}

	// Context naming a department the principal is not a member of must not
	// borrow that department's grants.
	decision, err = svc.Authorize(context.Background(), userID, "documents.delete_all",
		&models.EntityContext{DepartmentIDs: []bson.ObjectID{foreignDept}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected deny: a foreign department context must not confer its grants")
	}
}

func TestAuthorize_CategoryContext(t *testing.T) {
	svc, store, users, _, _ := newTestResolver()
	userID := bson.NewObjectID()
	categoryID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{ID: userID, Role: models.RoleEmployee, IsActive: true}
	store.grants = append(store.grants, activeGrant(models.EntityCategory, categoryID, "documents.download"))

	decision, err := svc.Authorize(context.Background(), userID, "documents.download",
		&models.EntityContext{CategoryID: categoryID})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Reason != ReasonInheritedGrant {
		t.Errorf("Expected category-inherited allow, got %+v", decision)
	}

	// Without the context the category grant is out of scope.
	decision, _ = svc.Authorize(context.Background(), userID, "documents.download", nil)
	if decision.Allowed {
		t.Error("Expected deny without the category context")
	}
}

func TestAuthorize_ExpiredGrantDenies(t *testing.T) {
	svc, store, users, _, _ := newTestResolver()
	userID := bson.NewObjectID()
	users.users[userID] = &models.PortalUser{ID: userID, Role: models.RoleEmployee, IsActive: true}

	expired := activeGrant(models.EntityUser, userID, "documents.approve")
	expired.ExpiresAt = time.Now().Unix() - 60
	store.grants = append(store.grants, expired)

	decision, err := svc.Authorize(context.Background(), userID, "documents.approve", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected deny for an expired grant even while isActive is still set")
	}
	if decision.Reason != ReasonNoGrant {
		t.Errorf("Expected reason %q, got %q", ReasonNoGrant, decision.Reason)
	}
}

func TestAuthorize_UnknownPrincipalAndInactivePrincipal(t *testing.T) {
	svc, _, users, _, _ := newTestResolver()

	decision, err := svc.Authorize(context.Background(), bson.NewObjectID(), "documents.view_all", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonNoPrincipal {
		t.Errorf("Expected no-principal deny, got %+v", decision)
	}

	inactiveID := bson.NewObjectID()
	users.users[inactiveID] = &models.PortalUser{ID: inactiveID, Role: models.RoleAdmin, IsActive: false}
	decision, err = svc.Authorize(context.Background(), inactiveID, "documents.view_all", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected deny for an inactive principal, admin role or not")
	}
}

func TestAuthorize_UnknownKeyIsAnErrorNotADeny(t *testing.T) {
	svc, _, users, _, _ := newTestResolver()
	adminID := bson.NewObjectID()
	users.users[adminID] = &models.PortalUser{ID: adminID, Role: models.RoleAdmin, IsActive: true}

	_, err := svc.Authorize(context.Background(), adminID, "documents.view_everything", nil)
	if !errors.Is(err, catalog.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey, got %v", err)
	}
}

func TestRecordDenial_AppendsAccessDeniedEntry(t *testing.T) {
	svc, _, _, audit, publisher := newTestResolver()
	userID := bson.NewObjectID()

	svc.RecordDenial(context.Background(), userID, "documents.delete_all", nil,
		RequestMeta{SourceIP: "192.168.1.20"})

	if len(audit.entries) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Action != models.AuditAccessDenied {
		t.Errorf("Expected access_denied action, got %q", entry.Action)
	}
	if entry.Actor != userID || entry.PermissionKey != "documents.delete_all" {
		t.Error("Denial entry does not carry principal and key")
	}
	if entry.SourceIP != "192.168.1.20" {
		t.Errorf("Expected source IP on denial entry, got %q", entry.SourceIP)
	}
	if publisher.denied != 1 {
		t.Errorf("Expected 1 access_denied event, got %d", publisher.denied)
	}
}
