// Package store persists users, credentials and posts in MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	UsersCollection     = "users"
	UserAuthsCollection = "user_auths"
	PostsCollection     = "posts"
)

// Store is the MongoDB-backed persistence layer.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	auths  *mongo.Collection
	posts  *mongo.Collection
}

// Connect dials uri, verifies the connection and opens database name.
func Connect(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(name))
	s.client = client
	return s, nil
}

// New wraps an already connected database.
func New(db *mongo.Database) *Store {
	return &Store{
		users: db.Collection(UsersCollection),
		auths: db.Collection(UserAuthsCollection),
		posts: db.Collection(PostsCollection),
	}
}

// Close disconnects the client if the store owns it.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.users.Database().Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the uniqueness constraints the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.auths.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_id"),
	}); err != nil {
		return fmt.Errorf("user_auths index: %w", err)
	}
	if _, err := s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("idx_user_id"),
	}); err != nil {
		return fmt.Errorf("posts index: %w", err)
	}
	return nil
}

// CreateUser stores a new user with role User and its password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	user := User{
		ID:    primitive.NewObjectID().Hex(),
		Email: email,
		Role:  RoleUser,
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	if _, err := s.auths.InsertOne(ctx, UserAuth{UserID: user.ID, PasswordHash: passwordHash}); err != nil {
		_, _ = s.users.DeleteOne(ctx, bson.M{"_id": user.ID})
		return User{}, err
	}
	return user, nil
}

// FindUserByEmail looks a user up by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return findOne[User](ctx, s.users, bson.M{"email": email})
}

// FindUserByID looks a user up by identifier.
func (s *Store) FindUserByID(ctx context.Context, id string) (User, error) {
	return findOne[User](ctx, s.users, bson.M{"_id": id})
}

// ListUsers returns every user.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return findAll[User](ctx, s.users)
}

// SetRole changes a user's role.
func (s *Store) SetRole(ctx context.Context, id string, role Role) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// PasswordHash returns the stored hash for a user.
func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	auth, err := findOne[UserAuth](ctx, s.auths, bson.M{"user_id": userID})
	if err != nil {
		return "", err
	}
	return auth.PasswordHash, nil
}

// CreatePost stores a post authored by userID.
func (s *Store) CreatePost(ctx context.Context, userID, title, content string) (Post, error) {
	post := Post{
		ID:      primitive.NewObjectID().Hex(),
		Title:   title,
		Content: content,
		UserID:  userID,
	}
	if _, err := s.posts.InsertOne(ctx, post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// FindPost looks a post up by identifier.
func (s *Store) FindPost(ctx context.Context, id string) (Post, error) {
	return findOne[Post](ctx, s.posts, bson.M{"_id": id})
}

// ListPosts returns every post.
func (s *Store) ListPosts(ctx context.Context) ([]Post, error) {
	return findAll[Post](ctx, s.posts)
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) (T, error) {
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return out, ErrNotFound
	}
	return out, err
}

func findAll[T any](ctx context.Context, coll *mongo.Collection) ([]T, error) {
	cur, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []T{}
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}
