// Package store persists users and messages. The mongo driver is used in
// production; the memory driver backs tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/echoes/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("store: email already exists")
	// ErrInvalidID is returned for ids that are not valid object ids.
	ErrInvalidID = errors.New("store: invalid id")
	// ErrEmptyMessage is returned for a message with neither text nor image.
	ErrEmptyMessage = errors.New("store: message needs text or image")
)

// NewUser holds the fields needed to create an account.
type NewUser struct {
	FullName     string
	Email        string
	PasswordHash string
}

// Users is the user half of the document store.
type Users interface {
	CreateUser(ctx context.Context, u NewUser) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfilePic(ctx context.Context, id, url string) (*models.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]models.User, error)
}

// Messages is the message half of the document store.
type Messages interface {
	// CreateMessage durably stores a message and returns it with its id and
	// timestamps set.
	CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (*models.Message, error)
	// Conversation returns every message exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]models.Message, error)
}

// Store is the full document store.
type Store interface {
	Users
	Messages
	Close(ctx context.Context) error
}
