package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrGrantNotFound means a revoke targeted a grant id that does not exist
// or is already inactive.
var ErrGrantNotFound = errors.New("grant not found or already inactive")

type GrantRepository struct {
	collection *mongo.Collection
}

func NewGrantRepository(db *mongo.Database) *GrantRepository {
	return &GrantRepository{
		collection: db.Collection("PermissionGrant"),
	}
}

// EnsureIndexes creates the partial unique index that enforces at most one
// active grant per (entityType, entityId, permissionKey) triple. Concurrent
// duplicate grants lose at this index, never in application code.
func (r *GrantRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "entityType", Value: 1},
				{Key: "entityId", Value: 1},
				{Key: "permissionKey", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isActive": true}),
		},
		{
			Keys: bson.D{
				{Key: "entityType", Value: 1},
				{Key: "entityId", Value: 1},
				{Key: "isActive", Value: 1},
			},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create grant indexes: %w", err)
	}
	return nil
}

// effectiveFilter matches rows that are active and not past their expiry.
// Expired rows keep isActive=true in storage until a write path touches
// their triple; reads just skip them.
func effectiveFilter(now int64) bson.M {
	return bson.M{
		"isActive": true,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$exists": false}},
			{"expiresAt": 0},
			{"expiresAt": bson.M{"$gt": now}},
		},
	}
}

func (r *GrantRepository) Insert(ctx context.Context, grant *models.PermissionGrant) error {
	if grant.ID.IsZero() {
		grant.ID = bson.NewObjectID()
	}
	if grant.GrantedAt == 0 {
		grant.GrantedAt = time.Now().Unix()
	}
	grant.IsActive = true

	_, err := r.collection.InsertOne(ctx, grant)
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

// IsDuplicate reports whether an insert failed against the active-triple
// unique index.
func IsDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(errors.Unwrap(err)) || mongo.IsDuplicateKeyError(err)
}

// FindEffective returns the single active, unexpired grant for a triple,
// or nil when there is none.
func (r *GrantRepository) FindEffective(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) (*models.PermissionGrant, error) {
	filter := effectiveFilter(time.Now().Unix())
	filter["entityType"] = entityType
	filter["entityId"] = entityID
	filter["permissionKey"] = key

	var grant models.PermissionGrant
	err := r.collection.FindOne(ctx, filter).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

// AnyEffective reports whether any of the entity ids holds an effective
// grant for the key. The resolver uses this for department/category
// inheritance.
func (r *GrantRepository) AnyEffective(ctx context.Context, entityType models.EntityType, entityIDs []bson.ObjectID, key string) (bool, error) {
	if len(entityIDs) == 0 {
		return false, nil
	}

	filter := effectiveFilter(time.Now().Unix())
	filter["entityType"] = entityType
	filter["entityId"] = bson.M{"$in": entityIDs}
	filter["permissionKey"] = key

	err := r.collection.FindOne(ctx, filter).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *GrantRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionGrant, error) {
	var grant models.PermissionGrant
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

// DeactivateExpired flips the flag on expired rows for one triple so the
// unique index stops counting them. Run on the write path before a new
// insert for the same triple.
func (r *GrantRepository) DeactivateExpired(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID, key string) error {
	filter := bson.M{
		"entityType":    entityType,
		"entityId":      entityID,
		"permissionKey": key,
		"isActive":      true,
		"expiresAt":     bson.M{"$gt": 0, "$lte": time.Now().Unix()},
	}

	_, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return fmt.Errorf("error deactivating expired grants: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a grant. ErrGrantNotFound when the id is unknown
// or the row is already inactive.
func (r *GrantRepository) Deactivate(ctx context.Context, id bson.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "isActive": true},
		bson.M{"$set": bson.M{"isActive": false}},
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate grant: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// DeactivateForEntity soft-deletes every active grant held by one entity.
// Used when an upstream user is deactivated.
func (r *GrantRepository) DeactivateForEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"entityType": entityType, "entityId": entityID, "isActive": true},
		bson.M{"$set": bson.M{"isActive": false}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate entity grants: %w", err)
	}
	return result.ModifiedCount, nil
}

// FindForEntity returns the effective grants held by one entity.
func (r *GrantRepository) FindForEntity(ctx context.Context, entityType models.EntityType, entityID bson.ObjectID) ([]*models.PermissionGrant, error) {
	filter := effectiveFilter(time.Now().Unix())
	filter["entityType"] = entityType
	filter["entityId"] = entityID

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*models.PermissionGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// FindKeysForEntities collects the distinct effective permission keys held
// by a user entity and its department entities. Feeds the client cache
// snapshot.
func (r *GrantRepository) FindKeysForEntities(ctx context.Context, userID bson.ObjectID, departmentIDs []bson.ObjectID) ([]string, error) {
	filter := effectiveFilter(time.Now().Unix())
	clauses := []bson.M{
		{"entityType": models.EntityUser, "entityId": userID},
	}
	if len(departmentIDs) > 0 {
		clauses = append(clauses, bson.M{"entityType": models.EntityDepartment, "entityId": bson.M{"$in": departmentIDs}})
	}
	filter["$and"] = []bson.M{{"$or": clauses}}

	var keys []string
	if err := r.collection.Distinct(ctx, "permissionKey", filter).Decode(&keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// GrantFilter narrows FindAll for the reporting endpoints.
type GrantFilter struct {
	EntityType    models.EntityType
	EntityID      bson.ObjectID
	Category      string
	PermissionKey string
	ActiveOnly    bool
	From          int64
	To            int64
}

func (r *GrantRepository) FindAll(ctx context.Context, filter GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	query := bson.M{}
	if filter.EntityType != "" {
		query["entityType"] = filter.EntityType
	}
	if !filter.EntityID.IsZero() {
		query["entityId"] = filter.EntityID
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.PermissionKey != "" {
		query["permissionKey"] = filter.PermissionKey
	}
	if filter.ActiveOnly {
		for k, v := range effectiveFilter(time.Now().Unix()) {
			query[k] = v
		}
	}
	if filter.From > 0 || filter.To > 0 {
		granted := bson.M{}
		if filter.From > 0 {
			granted["$gte"] = filter.From
		}
		if filter.To > 0 {
			granted["$lte"] = filter.To
		}
		query["grantedAt"] = granted
	}

	opts := options.Find()
	opts.SetSort(bson.M{"grantedAt": -1})
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*models.PermissionGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}
