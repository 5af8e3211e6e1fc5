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

var ErrTemplateNotFound = errors.New("permission template not found")

type TemplateRepository struct {
	collection *mongo.Collection
}

func NewTemplateRepository(db *mongo.Database) *TemplateRepository {
	return &TemplateRepository{
		collection: db.Collection("PermissionTemplate"),
	}
}

func (r *TemplateRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create template indexes: %w", err)
	}
	return nil
}

func (r *TemplateRepository) Create(ctx context.Context, template *models.PermissionTemplate) (*models.PermissionTemplate, error) {
	existing, err := r.FindByName(ctx, template.Name)
	if err != nil && !errors.Is(err, ErrTemplateNotFound) {
		return nil, fmt.Errorf("error checking existing template: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("template with name '%s' already exists", template.Name)
	}

	if template.ID.IsZero() {
		template.ID = bson.NewObjectID()
	}

	currentTime := time.Now().Unix()
	if template.CreatedAt == 0 {
		template.CreatedAt = currentTime
	}
	if template.UpdatedAt == 0 {
		template.UpdatedAt = currentTime
	}
	template.IsActive = true

	_, err = r.collection.InsertOne(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	return template, nil
}

func (r *TemplateRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionTemplate, error) {
	var template models.PermissionTemplate
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id.Hex())
		}
		return nil, err
	}
	return &template, nil
}

func (r *TemplateRepository) FindByName(ctx context.Context, name string) (*models.PermissionTemplate, error) {
	var template models.PermissionTemplate
	err := r.collection.FindOne(ctx, bson.M{"name": name}).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
		}
		return nil, err
	}
	return &template, nil
}

func (r *TemplateRepository) FindAll(ctx context.Context, page, limit int) ([]*models.PermissionTemplate, error) {
	opts := options.Find()
	opts.SetSort(bson.M{"name": 1})
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"isActive": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var templates []*models.PermissionTemplate
	if err = cursor.All(ctx, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// IncrementUsage bumps the apply counter with a server-side $inc.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id bson.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"usageCount": 1},
			"$set": bson.M{"updatedAt": time.Now().Unix()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	return nil
}

func (r *TemplateRepository) Deactivate(ctx context.Context, id bson.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "isActive": true},
		bson.M{"$set": bson.M{"isActive": false, "updatedAt": time.Now().Unix()}},
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id.Hex())
	}
	return nil
}
