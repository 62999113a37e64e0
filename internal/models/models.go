// Package models defines the persisted chat records shared by the store,
// the REST API, and the real-time delivery path.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is an account record. The password hash never leaves the server.
type User struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	FullName   string             `bson:"fullName" json:"fullName"`
	Email      string             `bson:"email" json:"email"`
	Password   string             `bson:"password" json:"-"`
	ProfilePic string             `bson:"profilePic" json:"profilePic"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Message is a direct message between two users. At least one of Text and
// Image is set.
type Message struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	SenderID   string             `bson:"senderId" json:"senderId"`
	ReceiverID string             `bson:"receiverId" json:"receiverId"`
	Text       string             `bson:"text,omitempty" json:"text,omitempty"`
	Image      string             `bson:"image,omitempty" json:"image,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HasPayload reports whether the message carries text or an image.
func (m *Message) HasPayload() bool {
	return m.Text != "" || m.Image != ""
}
