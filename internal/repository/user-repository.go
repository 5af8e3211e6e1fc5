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

// PortalUserRepository holds the local mirror of portal users. Rows arrive
// from upstream user/department events, not from this service's API.
type PortalUserRepository struct {
	collection *mongo.Collection
}

func NewPortalUserRepository(db *mongo.Database) *PortalUserRepository {
	return &PortalUserRepository{
		collection: db.Collection("PortalUser"),
	}
}

func (r *PortalUserRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.PortalUser, error) {
	var user models.PortalUser
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *PortalUserRepository) Upsert(ctx context.Context, user *models.PortalUser) error {
	user.UpdatedAt = time.Now().Unix()

	update := bson.M{
		"$set": bson.M{
			"username":  user.Username,
			"email":     user.Email,
			"role":      user.Role,
			"isActive":  user.IsActive,
			"updatedAt": user.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"createdAt":     user.UpdatedAt,
			"departmentIds": user.DepartmentIDs,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": user.ID}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert portal user: %w", err)
	}
	return nil
}

func (r *PortalUserRepository) AddDepartment(ctx context.Context, userID, departmentID bson.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$addToSet": bson.M{"departmentIds": departmentID},
			"$set":      bson.M{"updatedAt": time.Now().Unix()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add department membership: %w", err)
	}
	return nil
}

func (r *PortalUserRepository) RemoveDepartment(ctx context.Context, userID, departmentID bson.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$pull": bson.M{"departmentIds": departmentID},
			"$set":  bson.M{"updatedAt": time.Now().Unix()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove department membership: %w", err)
	}
	return nil
}

func (r *PortalUserRepository) SetActive(ctx context.Context, userID bson.ObjectID, active bool) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().Unix()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update portal user state: %w", err)
	}
	return nil
}
