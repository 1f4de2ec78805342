package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docgram/pkg/domain"
)

// migrationLockKey serializes schema migration across replicas via a
// Postgres advisory lock.
const migrationLockKey = 806137204

// GormStore persists all Docgram state in Postgres with pgvector.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects, takes the migration advisory lock and brings
// the schema up to date.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &GormStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *GormStore) migrate() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
			return err
		}
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return err
		}
		return tx.AutoMigrate(
			&UserModel{},
			&PostModel{},
			&CommentModel{},
			&FollowModel{},
			&LikeModel{},
			&BookmarkModel{},
			&ConversationModel{},
			&MessageModel{},
			&ChunkModel{},
		)
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 23505 = unique_violation
	return err != nil && strings.Contains(err.Error(), "23505")
}

// Users

func (s *GormStore) CreateUser(u domain.User) error {
	if err := s.db.Create(userToModel(u)).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *GormStore) UpdateUser(u domain.User) error {
	err := s.db.Model(&UserModel{}).Where("id = ?", u.ID).Updates(map[string]any{
		"username":   u.Username,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"bio":        u.Bio,
		"avatar_url": u.AvatarURL,
		"is_active":  u.IsActive,
		"updated_at": time.Now().UTC(),
	}).Error
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.findUser("id = ?", id)
}

func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.findUser("username = ?", username)
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.findUser("email = ?", email)
}

func (s *GormStore) findUser(query string, arg any) (domain.User, bool, error) {
	var m UserModel
	err := s.db.Where(query, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(m), true, nil
}

func (s *GormStore) SetLastLogin(id string, at time.Time) error {
	return s.db.Model(&UserModel{}).Where("id = ?", id).
		Update("last_login_at", at).Error
}

// Follow graph

func (s *GormStore) ToggleFollow(followerID, followeeID string) (FollowCounts, error) {
	var out FollowCounts
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var edge FollowModel
		err := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			First(&edge).Error
		switch {
		case err == nil:
			if err := tx.Delete(&edge).Error; err != nil {
				return err
			}
			if err := adjustCounter(tx, followeeID, "followers_count", -1); err != nil {
				return err
			}
			if err := adjustCounter(tx, followerID, "following_count", -1); err != nil {
				return err
			}
			out.Following = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			edge = FollowModel{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: time.Now().UTC()}
			if err := tx.Create(&edge).Error; err != nil {
				return err
			}
			if err := adjustCounter(tx, followeeID, "followers_count", +1); err != nil {
				return err
			}
			if err := adjustCounter(tx, followerID, "following_count", +1); err != nil {
				return err
			}
			out.Following = true
		default:
			return err
		}
		var target, self UserModel
		if err := tx.Select("followers_count").Where("id = ?", followeeID).First(&target).Error; err != nil {
			return err
		}
		if err := tx.Select("following_count").Where("id = ?", followerID).First(&self).Error; err != nil {
			return err
		}
		out.TargetFollowers = target.FollowersCount
		out.OwnFollowing = self.FollowingCount
		return nil
	})
	return out, err
}

func adjustCounter(tx *gorm.DB, userID, column string, delta int) error {
	expr := gorm.Expr(column+" + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("GREATEST("+column+" + ?, 0)", delta)
	}
	return tx.Model(&UserModel{}).Where("id = ?", userID).Update(column, expr).Error
}

func (s *GormStore) IsFollowing(followerID, followeeID string) (bool, error) {
	var n int64
	err := s.db.Model(&FollowModel{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) ListFollowers(userID string, offset, limit int) ([]domain.User, error) {
	return s.listFollowEdge(
		"JOIN follow_models f ON f.follower_id = user_models.id",
		"f.followee_id = ?", userID, offset, limit)
}

func (s *GormStore) ListFollowing(userID string, offset, limit int) ([]domain.User, error) {
	return s.listFollowEdge(
		"JOIN follow_models f ON f.followee_id = user_models.id",
		"f.follower_id = ?", userID, offset, limit)
}

func (s *GormStore) listFollowEdge(join, where, userID string, offset, limit int) ([]domain.User, error) {
	var models []UserModel
	err := s.db.Model(&UserModel{}).
		Joins(join).
		Where(where, userID).
		Order("f.created_at DESC").
		Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out, nil
}

func (s *GormStore) FollowedUserIDs(userID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&FollowModel{}).
		Where("follower_id = ?", userID).
		Pluck("followee_id", &ids).Error
	return ids, err
}

// Posts

func (s *GormStore) CreatePost(p domain.Post) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(postToModel(p)).Error; err != nil {
			return err
		}
		return adjustCounter(tx, p.OwnerID, "posts_count", +1)
	})
}

func (s *GormStore) UpdatePost(p domain.Post) error {
	return s.db.Model(&PostModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"title":       p.Title,
		"description": p.Description,
		"is_public":   p.IsPublic,
		"updated_at":  time.Now().UTC(),
	}).Error
}

func (s *GormStore) SetPostStatus(id string, status domain.PostStatus, errMsg string) error {
	return s.db.Model(&PostModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":        string(status),
		"error_message": errMsg,
		"updated_at":    time.Now().UTC(),
	}).Error
}

func (s *GormStore) SetPostPageCount(id string, pages int) error {
	return s.db.Model(&PostModel{}).Where("id = ?", id).
		Update("page_count", pages).Error
}

func (s *GormStore) GetPost(id string) (domain.Post, bool, error) {
	var m PostModel
	err := s.db.Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Post{}, false, nil
	}
	if err != nil {
		return domain.Post{}, false, err
	}
	return postFromModel(m), true, nil
}

// DeletePost removes the post and all dependent rows, then decrements
// the owner's post counter.
func (s *GormStore) DeletePost(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var m PostModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		var convIDs []string
		if err := tx.Model(&ConversationModel{}).Where("post_id = ?", id).
			Pluck("id", &convIDs).Error; err != nil {
			return err
		}
		if len(convIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", convIDs).Delete(&MessageModel{}).Error; err != nil {
				return err
			}
		}
		for _, step := range []error{
			tx.Where("post_id = ?", id).Delete(&ConversationModel{}).Error,
			tx.Where("post_id = ?", id).Delete(&CommentModel{}).Error,
			tx.Where("post_id = ?", id).Delete(&LikeModel{}).Error,
			tx.Where("post_id = ?", id).Delete(&BookmarkModel{}).Error,
			tx.Where("post_id = ?", id).Delete(&ChunkModel{}).Error,
			tx.Delete(&m).Error,
		} {
			if step != nil {
				return step
			}
		}
		return adjustCounter(tx, m.OwnerID, "posts_count", -1)
	})
}

func (s *GormStore) ListPublicPosts(offset, limit int) ([]domain.Post, error) {
	return s.listPosts(s.db.Where("is_public = ?", true), offset, limit)
}

func (s *GormStore) ListPostsByOwner(ownerID string, includePrivate bool, offset, limit int) ([]domain.Post, error) {
	q := s.db.Where("owner_id = ?", ownerID)
	if !includePrivate {
		q = q.Where("is_public = ?", true)
	}
	return s.listPosts(q, offset, limit)
}

func (s *GormStore) ListFeedPosts(viewerID string, ownerIDs []string, offset, limit int) ([]domain.Post, error) {
	if len(ownerIDs) == 0 {
		return s.listPosts(s.db.Where("owner_id = ?", viewerID), offset, limit)
	}
	return s.listPosts(
		s.db.Where("owner_id = ? OR (owner_id IN ? AND is_public = ?)", viewerID, ownerIDs, true),
		offset, limit,
	)
}

func (s *GormStore) SearchPosts(query string, offset, limit int) ([]domain.Post, error) {
	pat := "%" + strings.ToLower(query) + "%"
	return s.listPosts(
		s.db.Where("is_public = ? AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", true, pat, pat),
		offset, limit,
	)
}

func (s *GormStore) listPosts(q *gorm.DB, offset, limit int) ([]domain.Post, error) {
	var models []PostModel
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Post, 0, len(models))
	for _, m := range models {
		out = append(out, postFromModel(m))
	}
	return out, nil
}

// Likes and bookmarks

func (s *GormStore) ToggleLike(postID, userID string) (bool, int64, error) {
	var liked bool
	var likes int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row LikeModel
		err := tx.Where("post_id = ? AND user_id = ?", postID, userID).First(&row).Error
		switch {
		case err == nil:
			if err := tx.Delete(&row).Error; err != nil {
				return err
			}
			if err := tx.Model(&PostModel{}).Where("id = ?", postID).
				Update("likes_count", gorm.Expr("GREATEST(likes_count - 1, 0)")).Error; err != nil {
				return err
			}
			liked = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = LikeModel{PostID: postID, UserID: userID, CreatedAt: time.Now().UTC()}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if err := tx.Model(&PostModel{}).Where("id = ?", postID).
				Update("likes_count", gorm.Expr("likes_count + 1")).Error; err != nil {
				return err
			}
			liked = true
		default:
			return err
		}
		var p PostModel
		if err := tx.Select("likes_count").Where("id = ?", postID).First(&p).Error; err != nil {
			return err
		}
		likes = p.LikesCount
		return nil
	})
	return liked, likes, err
}

func (s *GormStore) ToggleBookmark(postID, userID string) (bool, error) {
	var bookmarked bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row BookmarkModel
		err := tx.Where("post_id = ? AND user_id = ?", postID, userID).First(&row).Error
		switch {
		case err == nil:
			bookmarked = false
			return tx.Delete(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			bookmarked = true
			return tx.Create(&BookmarkModel{PostID: postID, UserID: userID, CreatedAt: time.Now().UTC()}).Error
		default:
			return err
		}
	})
	return bookmarked, err
}

func (s *GormStore) HasLike(postID, userID string) (bool, error) {
	var n int64
	err := s.db.Model(&LikeModel{}).
		Where("post_id = ? AND user_id = ?", postID, userID).Count(&n).Error
	return n > 0, err
}

func (s *GormStore) HasBookmark(postID, userID string) (bool, error) {
	var n int64
	err := s.db.Model(&BookmarkModel{}).
		Where("post_id = ? AND user_id = ?", postID, userID).Count(&n).Error
	return n > 0, err
}

// Comments

func (s *GormStore) CreateComment(c domain.Comment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&CommentModel{
			ID:        c.ID,
			PostID:    c.PostID,
			AuthorID:  c.AuthorID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&PostModel{}).Where("id = ?", c.PostID).
			Update("comments_count", gorm.Expr("comments_count + 1")).Error
	})
}

func (s *GormStore) ListComments(postID string, offset, limit int) ([]domain.Comment, error) {
	var models []CommentModel
	err := s.db.Where("post_id = ?", postID).
		Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Comment{
			ID:        m.ID,
			PostID:    m.PostID,
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// Conversations and messages

func (s *GormStore) GetConversationByPostUser(postID, userID string) (domain.Conversation, bool, error) {
	var m ConversationModel
	err := s.db.Where("post_id = ? AND user_id = ?", postID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(m), true, nil
}

func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var m ConversationModel
	err := s.db.Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(m), true, nil
}

func (s *GormStore) CreateConversation(c domain.Conversation) error {
	err := s.db.Create(&ConversationModel{
		ID:            c.ID,
		PostID:        c.PostID,
		UserID:        c.UserID,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}).Error
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *GormStore) TouchConversation(id string, lastMessageAt time.Time) error {
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
		"last_message_at": lastMessageAt,
		"updated_at":      lastMessageAt,
	}).Error
}

func (s *GormStore) AppendMessage(m domain.Message) error {
	return s.db.Create(&MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}).Error
}

func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var m MessageModel
	err := s.db.Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	return messageFromModel(m), true, nil
}

func (s *GormStore) FinalizeMessage(id, content string, status domain.MessageStatus) error {
	return s.db.Model(&MessageModel{}).
		Where("id = ? AND status = ?", id, string(domain.MessagePending)).
		Updates(map[string]any{
			"content": content,
			"status":  string(status),
		}).Error
}

func (s *GormStore) DeleteMessage(id string) error {
	return s.db.Where("id = ?", id).Delete(&MessageModel{}).Error
}

func (s *GormStore) ListConversationMessages(conversationID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	q := s.db.Where("conversation_id = ?", conversationID).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(models))
	for _, m := range models {
		out = append(out, messageFromModel(m))
	}
	return out, nil
}

// Chunks

func (s *GormStore) ReplaceChunks(postID string, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", postID).Delete(&ChunkModel{}).Error; err != nil {
			return err
		}
		for _, c := range chunks {
			meta, err := json.Marshal(c.Metadata)
			if err != nil {
				return err
			}
			row := ChunkModel{
				ID:         c.ID,
				PostID:     postID,
				ChunkIndex: c.Index,
				Content:    c.Content,
				Metadata:   datatypes.JSON(meta),
				CreatedAt:  c.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) SetChunkEmbedding(id string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	return s.db.Model(&ChunkModel{}).Where("id = ?", id).
		Update("embedding", &vec).Error
}

func (s *GormStore) SearchChunks(postID string, embedding []float32, limit int) ([]domain.Chunk, error) {
	var models []ChunkModel
	vec := pgvector.NewVector(embedding)
	err := s.db.Where("post_id = ? AND embedding IS NOT NULL", postID).
		Order(gorm.Expr("embedding <=> ?", vec)).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, 0, len(models))
	for _, m := range models {
		out = append(out, chunkFromModel(m))
	}
	return out, nil
}

// Model conversions

func userToModel(u domain.User) *UserModel {
	return &UserModel{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Bio:            u.Bio,
		AvatarURL:      u.AvatarURL,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
		PostsCount:     u.PostsCount,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
		LastLoginAt:    u.LastLoginAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:             m.ID,
		Username:       m.Username,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		Bio:            m.Bio,
		AvatarURL:      m.AvatarURL,
		FollowersCount: m.FollowersCount,
		FollowingCount: m.FollowingCount,
		PostsCount:     m.PostsCount,
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastLoginAt:    m.LastLoginAt,
	}
}

func postToModel(p domain.Post) *PostModel {
	return &PostModel{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		Title:            p.Title,
		Description:      p.Description,
		OriginalFilename: p.OriginalFilename,
		StorageKey:       p.StorageKey,
		SizeBytes:        p.SizeBytes,
		PageCount:        p.PageCount,
		IsPublic:         p.IsPublic,
		Status:           string(p.Status),
		ErrorMessage:     p.ErrorMessage,
		LikesCount:       p.LikesCount,
		CommentsCount:    p.CommentsCount,
		SharesCount:      p.SharesCount,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func postFromModel(m PostModel) domain.Post {
	return domain.Post{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		Description:      m.Description,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		SizeBytes:        m.SizeBytes,
		PageCount:        m.PageCount,
		IsPublic:         m.IsPublic,
		Status:           domain.PostStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		LikesCount:       m.LikesCount,
		CommentsCount:    m.CommentsCount,
		SharesCount:      m.SharesCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		PostID:        m.PostID,
		UserID:        m.UserID,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Status:         domain.MessageStatus(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}

func chunkFromModel(m ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Chunk{
		ID:        m.ID,
		PostID:    m.PostID,
		Index:     m.ChunkIndex,
		Content:   m.Content,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
	}
}
