package store

import (
	"errors"
	"time"

	"docgram/pkg/domain"
)

// ErrConflict reports a uniqueness violation (username or email already taken).
var ErrConflict = errors.New("store: conflict")

// FollowCounts is returned by ToggleFollow so handlers can echo fresh
// denormalized counters without a second round trip.
type FollowCounts struct {
	Following       bool
	TargetFollowers int64
	OwnFollowing    int64
}

// Store is the persistence boundary. Implementations must keep the
// denormalized counters (followers, likes, comments, posts) consistent
// with the underlying relation rows.
type Store interface {
	// Users.
	CreateUser(u domain.User) error
	UpdateUser(u domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	SetLastLogin(id string, at time.Time) error

	// Follow graph. ToggleFollow flips the edge and adjusts both users'
	// counters atomically.
	ToggleFollow(followerID, followeeID string) (FollowCounts, error)
	IsFollowing(followerID, followeeID string) (bool, error)
	ListFollowers(userID string, offset, limit int) ([]domain.User, error)
	ListFollowing(userID string, offset, limit int) ([]domain.User, error)
	FollowedUserIDs(userID string) ([]string, error)

	// Posts.
	CreatePost(p domain.Post) error
	UpdatePost(p domain.Post) error
	SetPostStatus(id string, status domain.PostStatus, errMsg string) error
	SetPostPageCount(id string, pages int) error
	GetPost(id string) (domain.Post, bool, error)
	DeletePost(id string) error
	ListPublicPosts(offset, limit int) ([]domain.Post, error)
	ListPostsByOwner(ownerID string, includePrivate bool, offset, limit int) ([]domain.Post, error)
	// ListFeedPosts returns the viewer's own posts plus public posts
	// from the given owners, newest first.
	ListFeedPosts(viewerID string, ownerIDs []string, offset, limit int) ([]domain.Post, error)
	SearchPosts(query string, offset, limit int) ([]domain.Post, error)

	// Likes and bookmarks.
	ToggleLike(postID, userID string) (liked bool, likes int64, err error)
	ToggleBookmark(postID, userID string) (bookmarked bool, err error)
	HasLike(postID, userID string) (bool, error)
	HasBookmark(postID, userID string) (bool, error)

	// Comments. CreateComment bumps the post's comment counter.
	CreateComment(c domain.Comment) error
	ListComments(postID string, offset, limit int) ([]domain.Comment, error)

	// Conversations and messages.
	GetConversationByPostUser(postID, userID string) (domain.Conversation, bool, error)
	GetConversation(id string) (domain.Conversation, bool, error)
	CreateConversation(c domain.Conversation) error
	TouchConversation(id string, lastMessageAt time.Time) error
	AppendMessage(m domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	// FinalizeMessage moves a pending message to a terminal status.
	// Messages already answered or failed are left untouched.
	FinalizeMessage(id, content string, status domain.MessageStatus) error
	DeleteMessage(id string) error
	ListConversationMessages(conversationID string, limit int) ([]domain.Message, error)

	// Chunks. ReplaceChunks swaps a post's chunk set in one transaction.
	ReplaceChunks(postID string, chunks []domain.Chunk) error
	SetChunkEmbedding(id string, embedding []float32) error
	// SearchChunks returns the post's embedded chunks nearest to the
	// query embedding, best first.
	SearchChunks(postID string, embedding []float32, limit int) ([]domain.Chunk, error)
}
