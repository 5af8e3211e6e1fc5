package repository

import (
	"context"
	"fmt"
	"time"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AuditRepository only appends and reads. There is deliberately no update
// or delete method on this type.
type AuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		collection: db.Collection("PermissionAudit"),
	}
}

func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "actor", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "entityType", Value: 1}, {Key: "entityId", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error) {
	if entry.ID.IsZero() {
		entry.ID = bson.NewObjectID()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// AuditFilter narrows audit queries for the reporting endpoints.
type AuditFilter struct {
	Actor         bson.ObjectID
	Action        models.AuditAction
	EntityType    models.EntityType
	EntityID      bson.ObjectID
	PermissionKey string
	From          int64
	To            int64
}

func (r *AuditRepository) Find(ctx context.Context, filter AuditFilter, page, limit int) ([]*models.AuditLogEntry, error) {
	query := bson.M{}
	if !filter.Actor.IsZero() {
		query["actor"] = filter.Actor
	}
	if filter.Action != "" {
		query["action"] = filter.Action
	}
	if filter.EntityType != "" {
		query["entityType"] = filter.EntityType
	}
	if !filter.EntityID.IsZero() {
		query["entityId"] = filter.EntityID
	}
	if filter.PermissionKey != "" {
		query["permissionKey"] = filter.PermissionKey
	}
	if filter.From > 0 || filter.To > 0 {
		window := bson.M{}
		if filter.From > 0 {
			window["$gte"] = filter.From
		}
		if filter.To > 0 {
			window["$lte"] = filter.To
		}
		query["timestamp"] = window
	}

	opts := options.Find()
	opts.SetSort(bson.M{"timestamp": -1})
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*models.AuditLogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
