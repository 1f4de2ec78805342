package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID             string `gorm:"primaryKey"`
	Username       string `gorm:"uniqueIndex;not null"`
	Email          string `gorm:"uniqueIndex;not null"`
	PasswordHash   string `gorm:"not null"`
	FirstName      string
	LastName       string
	Bio            string
	AvatarURL      string
	FollowersCount int64 `gorm:"not null;default:0"`
	FollowingCount int64 `gorm:"not null;default:0"`
	PostsCount     int64 `gorm:"not null;default:0"`
	IsActive       bool  `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
}

type PostModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Title            string `gorm:"not null"`
	Description      string
	OriginalFilename string `gorm:"not null"`
	StorageKey       string
	SizeBytes        int64  `gorm:"not null"`
	PageCount        int    `gorm:"not null;default:0"`
	IsPublic         bool   `gorm:"not null;index"`
	Status           string `gorm:"not null"`
	ErrorMessage     string
	LikesCount       int64     `gorm:"not null;default:0"`
	CommentsCount    int64     `gorm:"not null;default:0"`
	SharesCount      int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;index"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	PostID    string    `gorm:"not null;index"`
	AuthorID  string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// FollowModel stores at most one edge per ordered (follower, followee) pair.
type FollowModel struct {
	FollowerID string    `gorm:"primaryKey"`
	FolloweeID string    `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"not null"`
}

type LikeModel struct {
	PostID    string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type BookmarkModel struct {
	PostID    string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	PostID        string `gorm:"not null;uniqueIndex:idx_conversation_post_user"`
	UserID        string `gorm:"not null;uniqueIndex:idx_conversation_post_user"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	Status         string
	CreatedAt      time.Time `gorm:"not null;index"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	PostID     string           `gorm:"not null;uniqueIndex:idx_chunk_post_index"`
	ChunkIndex int              `gorm:"not null;uniqueIndex:idx_chunk_post_index"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}
