package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

const (
	clientUsersCollection = "users"
	adminUsersCollection  = "adminusers"
)

type UserRepository struct {
	clients *mongo.Collection
	admins  *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		clients: db.Collection(clientUsersCollection),
		admins:  db.Collection(adminUsersCollection),
	}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	unique := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := r.clients.Indexes().CreateMany(ctx, unique); err != nil {
		return fmt.Errorf("failed to create client user indexes: %w", err)
	}
	if _, err := r.admins.Indexes().CreateMany(ctx, unique); err != nil {
		return fmt.Errorf("failed to create admin user indexes: %w", err)
	}
	return nil
}

func (r *UserRepository) CreateClientUser(ctx context.Context, user *models.ClientUser) error {
	return insertUser(ctx, r.clients, user)
}

func (r *UserRepository) GetClientUserByEmail(ctx context.Context, email string) (*models.ClientUser, error) {
	var user models.ClientUser
	if err := findUser(ctx, r.clients, bson.M{"email": email}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetClientUserByID(ctx context.Context, id string) (*models.ClientUser, error) {
	var user models.ClientUser
	if err := findUser(ctx, r.clients, bson.M{"id": id}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) TouchClientLogin(ctx context.Context, id string, at time.Time) error {
	return touchLogin(ctx, r.clients, id, at)
}

func (r *UserRepository) CreateAdminUser(ctx context.Context, user *models.AdminUser) error {
	return insertUser(ctx, r.admins, user)
}

func (r *UserRepository) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := findUser(ctx, r.admins, bson.M{"email": email}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := findUser(ctx, r.admins, bson.M{"id": id}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) TouchAdminLogin(ctx context.Context, id string, at time.Time) error {
	return touchLogin(ctx, r.admins, id, at)
}

func insertUser(ctx context.Context, coll *mongo.Collection, user interface{}) error {
	if _, err := coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", repository.ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func findUser(ctx context.Context, coll *mongo.Collection, filter bson.M, out interface{}) error {
	if err := coll.FindOne(ctx, filter).Decode(out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: user", repository.ErrNotFound)
		}
		return fmt.Errorf("failed to find user: %w", err)
	}
	return nil
}

func touchLogin(ctx context.Context, coll *mongo.Collection, id string, at time.Time) error {
	res, err := coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{
		"$set": bson.M{"lastLogin": at, "updatedAt": at},
	})
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: user %s", repository.ErrNotFound, id)
	}
	return nil
}
