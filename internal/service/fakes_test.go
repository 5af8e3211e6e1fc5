package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"permission_service/internal/models"
	"permission_service/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// In-memory grant store implementing the store interfaces the services
// consume, including the partial unique index semantics: at most one
// active grant per (entityType, entityId, permissionKey) triple.
type fakeGrantStore struct {
	grants []*models.PermissionGrant

	// raceWinner, when set, is inserted behind the caller's back on the
	// next Insert to simulate a concurrent grant winning the index race.
	raceWinner *models.PermissionGrant
}

func (f *fakeGrantStore) Insert(ctx context.Context, grant *models.PermissionGrant) error {
	if f.raceWinner != nil {
		winner := f.raceWinner
		f.raceWinner = nil
		winner.IsActive = true
		if winner.ID.IsZero() {
			winner.ID = bson.NewObjectID()
		}
		f.grants = append(f.grants, winner)
	}

	for _, g := range f.grants {
		if g.IsActive && g.EntityType == grant.EntityType && g.EntityID == grant.EntityID && g.PermissionKey == grant.PermissionKey {
			return mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
		}
	}

	if grant.ID.IsZero() {
		grant.ID = bson.NewObjectID()
	}
	grant.IsActive = true
	f.grants = append(f.grants, grant)
	return nil
}

func (f *fakeGrantStore) FindEffective(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) (*models.PermissionGrant, error) {
	now := time.Now().Unix()
	for _, g := range f.grants {
		if g.EntityType == entityType && g.EntityID == entityID && g.PermissionKey == key && g.Effective(now) {
			return g, nil
		}
	}
	return nil, nil
}

func (f *fakeGrantStore) AnyEffective(ctx context.Context, entityType models.EntityType, entityIDs []bson.ObjectID, key string) (bool, error) {
	for _, id := range entityIDs {
		grant, _ := f.FindEffective(ctx, entityType, id, key)
		if grant != nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGrantStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionGrant, error) {
	for _, g := range f.grants {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

func (f *fakeGrantStore) DeactivateExpired(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) error {
	now := time.Now().Unix()
	for _, g := range f.grants {
		if g.EntityType == entityType && g.EntityID == entityID && g.PermissionKey == key && g.IsActive && g.Expired(now) {
			g.IsActive = false
		}
	}
	return nil
}

func (f *fakeGrantStore) Deactivate(ctx context.Context, id bson.ObjectID) error {
	for _, g := range f.grants {
		if g.ID == id && g.IsActive {
			g.IsActive = false
			return nil
		}
	}
	return repository.ErrGrantNotFound
}

func (f *fakeGrantStore) FindForEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) ([]*models.PermissionGrant, error) {
	now := time.Now().Unix()
	var out []*models.PermissionGrant
	for _, g := range f.grants {
		if g.EntityType == entityType && g.EntityID == entityID && g.Effective(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantStore) FindAll(ctx context.Context, filter repository.GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	return f.grants, nil
}

func (f *fakeGrantStore) FindKeysForEntities(ctx context.Context, userID bson.ObjectID, departmentIDs []bson.ObjectID) ([]string, error) {
	now := time.Now().Unix()
	seen := map[string]bool{}
	var keys []string
	add := func(g *models.PermissionGrant) {
		if g.Effective(now) && !seen[g.PermissionKey] {
			seen[g.PermissionKey] = true
			keys = append(keys, g.PermissionKey)
		}
	}
	for _, g := range f.grants {
		if g.EntityType == models.EntityUser && g.EntityID == userID {
			add(g)
		}
		if g.EntityType == models.EntityDepartment {
			for _, id := range departmentIDs {
				if g.EntityID == id {
					add(g)
				}
			}
		}
	}
	return keys, nil
}

type fakeAudit struct {
	entries []*models.AuditLogEntry
}

func (f *fakeAudit) Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error) {
	entry.ID = bson.NewObjectID()
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeAudit) byAction(action models.AuditAction) []*models.AuditLogEntry {
	var out []*models.AuditLogEntry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeUsers struct {
	users map[bson.ObjectID]*models.PortalUser
}

func (f *fakeUsers) FindByID(ctx context.Context, id bson.ObjectID) (*models.PortalUser, error) {
	return f.users[id], nil
}

type fakeInvalidator struct {
	calls []bson.ObjectID
}

func (f *fakeInvalidator) InvalidateEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) {
	f.calls = append(f.calls, entityID)
}

type fakePublisher struct {
	granted         int
	revoked         int
	templateApplied int
	denied          int
}

func (f *fakePublisher) PublishAccessDenied(ctx context.Context, principalID bson.ObjectID, permissionKey string) error {
	f.denied++
	return nil
}

func (f *fakePublisher) PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant, grantedBy bson.ObjectID) error {
	f.granted++
	return nil
}

func (f *fakePublisher) PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant, revokedBy bson.ObjectID) error {
	f.revoked++
	return nil
}

func (f *fakePublisher) PublishTemplateApplied(ctx context.Context, template *models.PermissionTemplate, entityType models.EntityType, entityID, appliedBy bson.ObjectID) error {
	f.templateApplied++
	return nil
}

var errCacheMiss = errors.New("cache miss")

type fakeRedis struct {
	data map[string][]byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}}
}

func (f *fakeRedis) SaveStructCached(ctx context.Context, key string, model any, ttl time.Duration) error {
	raw, err := json.Marshal(model)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeRedis) GetStructCached(ctx context.Context, key string, model any) error {
	raw, ok := f.data[key]
	if !ok {
		return errCacheMiss
	}
	return json.Unmarshal(raw, model)
}

func (f *fakeRedis) DeleteKey(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

type fakeTemplates struct {
	templates []*models.PermissionTemplate
}

func (f *fakeTemplates) Create(ctx context.Context, template *models.PermissionTemplate) (*models.PermissionTemplate, error) {
	template.ID = bson.NewObjectID()
	template.IsActive = true
	template.CreatedAt = time.Now().Unix()
	f.templates = append(f.templates, template)
	return template, nil
}

func (f *fakeTemplates) FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionTemplate, error) {
	for _, t := range f.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, repository.ErrTemplateNotFound
}

func (f *fakeTemplates) FindByName(ctx context.Context, name string) (*models.PermissionTemplate, error) {
	for _, t := range f.templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, repository.ErrTemplateNotFound
}

func (f *fakeTemplates) FindAll(ctx context.Context, page, limit int) ([]*models.PermissionTemplate, error) {
	return f.templates, nil
}

func (f *fakeTemplates) IncrementUsage(ctx context.Context, id bson.ObjectID) error {
	for _, t := range f.templates {
		if t.ID == id {
			t.UsageCount++
			return nil
		}
	}
	return repository.ErrTemplateNotFound
}

func (f *fakeTemplates) Deactivate(ctx context.Context, id bson.ObjectID) error {
	for _, t := range f.templates {
		if t.ID == id && t.IsActive {
			t.IsActive = false
			return nil
		}
	}
	return repository.ErrTemplateNotFound
}
