package domain

import "time"

// PostStatus tracks the document processing pipeline for a post.
type PostStatus string

const (
	PostQueued     PostStatus = "queued"
	PostProcessing PostStatus = "processing"
	PostReady      PostStatus = "ready"
	PostFailed     PostStatus = "failed"
)

// MessageStatus tracks the assistant slot of a chat message.
// User messages carry no status.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageAnswered MessageStatus = "answered"
	MessageFailed   MessageStatus = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID             string     `json:"user_id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Bio            string     `json:"bio,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	FollowersCount int64      `json:"followers_count"`
	FollowingCount int64      `json:"following_count"`
	PostsCount     int64      `json:"posts_count"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login,omitempty"`
}

type Post struct {
	ID               string     `json:"post_id"`
	OwnerID          string     `json:"user_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	StorageKey       string     `json:"-"`
	SizeBytes        int64      `json:"file_size"`
	PageCount        int        `json:"page_count"`
	IsPublic         bool       `json:"is_public"`
	Status           PostStatus `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	LikesCount       int64      `json:"likes_count"`
	CommentsCount    int64      `json:"comments_count"`
	SharesCount      int64      `json:"shares_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Comment struct {
	ID        string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation binds one user's chat to one post. At most one exists
// per (post, user) pair; it is created lazily on first access.
type Conversation struct {
	ID            string     `json:"conversation_id"`
	PostID        string     `json:"post_id"`
	UserID        string     `json:"user_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Message struct {
	ID             string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      time.Time     `json:"timestamp"`
}

// Chunk is a bounded slice of extracted document text, the unit of
// embedding and retrieval. Chunks of a post are ordered by Index.
type Chunk struct {
	ID        string            `json:"chunk_id"`
	PostID    string            `json:"post_id"`
	Index     int               `json:"chunk_index"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// FullName joins the optional name parts for display.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
