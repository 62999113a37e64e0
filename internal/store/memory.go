package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Tyrowin/echoes/internal/models"
)

type memoryStore struct {
	mu       sync.RWMutex
	users    map[primitive.ObjectID]models.User
	messages []models.Message
	now      func() time.Time
}

// NewMemory returns an in-process Store.
func NewMemory() Store {
	return &memoryStore{
		users: make(map[primitive.ObjectID]models.User),
		now:   time.Now,
	}
}

func (s *memoryStore) CreateUser(_ context.Context, u NewUser) (*models.User, error) {
	email := normalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == email {
			return nil, ErrDuplicateEmail
		}
	}

	now := s.now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		FullName:  strings.TrimSpace(u.FullName),
		Email:     email,
		Password:  u.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[user.ID] = user
	return &user, nil
}

func (s *memoryStore) UserByID(_ context.Context, id string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *memoryStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) UpdateProfilePic(_ context.Context, id, url string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[oid]
	if !ok {
		return nil, ErrNotFound
	}
	user.ProfilePic = url
	user.UpdatedAt = s.now().UTC()
	s.users[oid] = user
	return &user, nil
}

func (s *memoryStore) ListUsersExcept(_ context.Context, id string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		if user.ID.Hex() == id {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *memoryStore) CreateMessage(_ context.Context, senderID, receiverID, text, image string) (*models.Message, error) {
	now := s.now().UTC()
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

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return &msg, nil
}

func (s *memoryStore) Conversation(_ context.Context, a, b string) ([]models.Message, error) {
	if _, err := parseID(b); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}
