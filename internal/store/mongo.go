package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/models"
)

// Collection names.
const (
	CollectionUsers    = "users"
	CollectionMessages = "messages"
)

// MongoOptions configures the mongo store.
type MongoOptions struct {
	URI              string
	DB               string
	AppName          string
	MinPoolSize      uint64
	MaxPoolSize      uint64
	OperationTimeout time.Duration
}

type mongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	timeout  time.Duration
}

// ConnectMongo dials MongoDB, verifies the connection, and ensures indexes.
func ConnectMongo(ctx context.Context, opt MongoOptions) (Store, error) {
	if opt.OperationTimeout <= 0 {
		opt.OperationTimeout = 5 * time.Second
	}

	clientOptions := options.Client().ApplyURI(opt.URI).SetAppName(opt.AppName)
	clientOptions.SetMinPoolSize(opt.MinPoolSize)
	if opt.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(opt.MaxPoolSize)
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				zap.S().Debugw("mongo connection created", "address", evt.Address)
			case event.ConnectionClosed:
				zap.S().Debugw("mongo connection closed", "address", evt.Address, "reason", evt.Reason)
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(opt.DB)
	s := &mongoStore{
		client:   client,
		users:    db.Collection(CollectionUsers),
		messages: db.Collection(CollectionMessages),
		timeout:  opt.OperationTimeout,
	}

	if err = s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}

	zap.S().Infow("mongo connected", "db", opt.DB)
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "senderId", Value: 1},
			{Key: "receiverId", Value: 1},
			{Key: "createdAt", Value: 1},
		},
		Options: options.Index().SetName("messages_pair_created"),
	})
	if err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}

func (s *mongoStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *mongoStore) CreateUser(ctx context.Context, u NewUser) (*models.User, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	now := time.Now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		FullName:  strings.TrimSpace(u.FullName),
		Email:     normalizeEmail(u.Email),
		Password:  u.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (s *mongoStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *mongoStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": normalizeEmail(email)})
}

func (s *mongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	user := &models.User{}
	if err := s.users.FindOne(ctx, filter).Decode(user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *mongoStore) UpdateProfilePic(ctx context.Context, id, url string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.op(ctx)
	defer cancel()

	user := &models.User{}
	err = s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"profilePic": url, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update profile pic: %w", err)
	}
	return user, nil
}

func (s *mongoStore) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	filter := bson.M{}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}

	cur, err := s.users.Find(ctx, filter,
		options.Find().
			SetProjection(bson.M{"password": 0}).
			SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]models.User, 0)
	if err = cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *mongoStore) CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (*models.Message, error) {
	now := time.Now().UTC()
	msg := models.Message{
		ID:         primitive.NewObjectID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !msg.HasPayload() {
		return nil, ErrEmptyMessage
	}

	ctx, cancel := s.op(ctx)
	defer cancel()

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *mongoStore) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	if _, err := parseID(b); err != nil {
		return nil, err
	}

	ctx, cancel := s.op(ctx)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": a, "receiverId": b},
		bson.M{"senderId": b, "receiverId": a},
	}}

	cur, err := s.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	messages := make([]models.Message, 0)
	if err = cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return messages, nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Disconnect(ctx)
}
