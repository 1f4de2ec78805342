package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"docgram/internal/util"
	"docgram/pkg/domain"
	"docgram/pkg/queue"
)

type UploadParams struct {
	OwnerID     string
	Title       string
	Description string
	IsPublic    bool
	Filename    string
	ContentType string
	Data        []byte
}

// UploadPost validates and persists a PDF upload, then enqueues the
// document pipeline. The post is returned immediately in status
// "queued"; processing happens in the background.
func (a *App) UploadPost(ctx context.Context, p UploadParams) (domain.Post, error) {
	if len(p.Data) == 0 {
		return domain.Post{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if int64(len(p.Data)) > a.cfg.MaxUploadBytes {
		return domain.Post{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, a.cfg.MaxUploadBytes)
	}
	filename := strings.TrimSpace(p.Filename)
	contentType := strings.ToLower(strings.TrimSpace(p.ContentType))
	isPDF := contentType == "application/pdf" ||
		strings.EqualFold(filepath.Ext(filename), ".pdf")
	if !isPDF || !looksLikePDF(p.Data) {
		return domain.Post{}, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if title == "" {
		title = "Untitled"
	}

	// Best-effort page count; the pipeline refines it later.
	pages := 0
	if n, err := pdfPageCount(p.Data); err == nil {
		pages = n
	}

	now := time.Now().UTC()
	post := domain.Post{
		ID:               util.NewID(),
		OwnerID:          p.OwnerID,
		Title:            title,
		Description:      strings.TrimSpace(p.Description),
		OriginalFilename: filepath.Base(filename),
		SizeBytes:        int64(len(p.Data)),
		PageCount:        pages,
		IsPublic:         p.IsPublic,
		Status:           domain.PostQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	post.StorageKey = fmt.Sprintf("posts/%s/%s.pdf", p.OwnerID, post.ID)

	if err := a.blobs.Put(ctx, post.StorageKey, bytes.NewReader(p.Data), post.SizeBytes, "application/pdf"); err != nil {
		return domain.Post{}, fmt.Errorf("store file: %w", err)
	}
	if err := a.store.CreatePost(post); err != nil {
		if delErr := a.blobs.Delete(ctx, post.StorageKey); delErr != nil {
			a.logger.Warn("orphan_blob_cleanup_failed", "key", post.StorageKey, "error", delErr)
		}
		return domain.Post{}, fmt.Errorf("save post: %w", err)
	}

	if _, err := a.jobs.Enqueue(ctx, queue.KindProcessPost, queue.Payload{PostID: post.ID}); err != nil {
		a.logger.Error("enqueue_process_post_failed", "post_id", post.ID, "error", err)
		_ = a.store.SetPostStatus(post.ID, domain.PostFailed, "processing queue unavailable")
		post.Status = domain.PostFailed
		post.ErrorMessage = "processing queue unavailable"
		return post, nil
	}
	a.logger.Info("post_uploaded", "post_id", post.ID, "owner_id", p.OwnerID, "size", post.SizeBytes)
	return post, nil
}

// GetPost loads a post the viewer may see. Private posts of other
// users are reported as not found, not forbidden.
func (a *App) GetPost(viewerID, postID string) (domain.Post, error) {
	post, ok, err := a.store.GetPost(postID)
	if err != nil {
		return domain.Post{}, fmt.Errorf("load post: %w", err)
	}
	if !ok || (!post.IsPublic && post.OwnerID != viewerID) {
		return domain.Post{}, ErrNotFound
	}
	return post, nil
}

// PostViewer is the viewer-relative context attached to post responses.
type PostViewer struct {
	IsLiked          bool `json:"is_liked"`
	IsBookmarked     bool `json:"is_bookmarked"`
	IsFollowingOwner bool `json:"is_following_owner"`
}

// ViewerContext resolves like/bookmark/follow flags for a post.
func (a *App) ViewerContext(viewerID string, post domain.Post) (PostViewer, error) {
	var v PostViewer
	if viewerID == "" {
		return v, nil
	}
	var err error
	if v.IsLiked, err = a.store.HasLike(post.ID, viewerID); err != nil {
		return v, fmt.Errorf("check like: %w", err)
	}
	if v.IsBookmarked, err = a.store.HasBookmark(post.ID, viewerID); err != nil {
		return v, fmt.Errorf("check bookmark: %w", err)
	}
	if viewerID != post.OwnerID {
		if v.IsFollowingOwner, err = a.store.IsFollowing(viewerID, post.OwnerID); err != nil {
			return v, fmt.Errorf("check follow: %w", err)
		}
	}
	return v, nil
}

// ListPosts returns public posts, newest first.
func (a *App) ListPosts(offset, limit int) ([]domain.Post, error) {
	posts, err := a.store.ListPublicPosts(offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// Feed returns the viewer's posts plus public posts by followed users.
func (a *App) Feed(viewerID string, offset, limit int) ([]domain.Post, error) {
	ids, err := a.store.FollowedUserIDs(viewerID)
	if err != nil {
		return nil, fmt.Errorf("load follows: %w", err)
	}
	posts, err := a.store.ListFeedPosts(viewerID, ids, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	return posts, nil
}

// SearchPosts matches public posts by title or description substring.
func (a *App) SearchPosts(query string, offset, limit int) ([]domain.Post, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query required", ErrInvalidInput)
	}
	posts, err := a.store.SearchPosts(query, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return posts, nil
}

// UserPosts lists a user's posts. Private posts show only to the owner.
func (a *App) UserPosts(viewerID, ownerID string, offset, limit int) ([]domain.Post, error) {
	if _, err := a.GetUser(ownerID); err != nil {
		return nil, err
	}
	posts, err := a.store.ListPostsByOwner(ownerID, viewerID == ownerID, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list user posts: %w", err)
	}
	return posts, nil
}

type UpdatePostParams struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"is_public"`
}

// UpdatePost edits post metadata. Owner only.
func (a *App) UpdatePost(viewerID, postID string, p UpdatePostParams) (domain.Post, error) {
	post, err := a.GetPost(viewerID, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.OwnerID != viewerID {
		return domain.Post{}, ErrForbidden
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return domain.Post{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		post.Title = title
	}
	if p.Description != nil {
		post.Description = strings.TrimSpace(*p.Description)
	}
	if p.IsPublic != nil {
		post.IsPublic = *p.IsPublic
	}
	if err := a.store.UpdatePost(post); err != nil {
		return domain.Post{}, fmt.Errorf("update post: %w", err)
	}
	return a.GetPost(viewerID, postID)
}

// DeletePost removes the post row, its dependents and its blob.
// Owner only.
func (a *App) DeletePost(ctx context.Context, viewerID, postID string) error {
	post, err := a.GetPost(viewerID, postID)
	if err != nil {
		return err
	}
	if post.OwnerID != viewerID {
		return ErrForbidden
	}
	if err := a.store.DeletePost(postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if post.StorageKey != "" {
		if err := a.blobs.Delete(ctx, post.StorageKey); err != nil {
			a.logger.Warn("blob_delete_failed", "key", post.StorageKey, "error", err)
		}
	}
	a.logger.Info("post_deleted", "post_id", postID, "owner_id", viewerID)
	return nil
}

// DownloadURL returns a short-lived presigned URL for the original PDF.
func (a *App) DownloadURL(ctx context.Context, viewerID, postID string) (string, error) {
	post, err := a.GetPost(viewerID, postID)
	if err != nil {
		return "", err
	}
	url, err := a.blobs.PresignGet(ctx, post.StorageKey, a.cfg.DownloadTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// ReprocessPost re-runs the document pipeline. Owner only.
func (a *App) ReprocessPost(ctx context.Context, viewerID, postID string) (domain.Post, error) {
	post, err := a.GetPost(viewerID, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.OwnerID != viewerID {
		return domain.Post{}, ErrForbidden
	}
	if err := a.store.SetPostStatus(postID, domain.PostQueued, ""); err != nil {
		return domain.Post{}, fmt.Errorf("reset status: %w", err)
	}
	if _, err := a.jobs.Enqueue(ctx, queue.KindProcessPost, queue.Payload{PostID: postID}); err != nil {
		_ = a.store.SetPostStatus(postID, domain.PostFailed, "processing queue unavailable")
		return domain.Post{}, fmt.Errorf("enqueue reprocess: %w", err)
	}
	post.Status = domain.PostQueued
	post.ErrorMessage = ""
	return post, nil
}

// ToggleLike flips the viewer's like on a post and returns the new
// state with the fresh counter.
func (a *App) ToggleLike(viewerID, postID string) (bool, int64, error) {
	if _, err := a.GetPost(viewerID, postID); err != nil {
		return false, 0, err
	}
	liked, likes, err := a.store.ToggleLike(postID, viewerID)
	if err != nil {
		return false, 0, fmt.Errorf("toggle like: %w", err)
	}
	return liked, likes, nil
}

// ToggleBookmark flips the viewer's private bookmark on a post.
func (a *App) ToggleBookmark(viewerID, postID string) (bool, error) {
	if _, err := a.GetPost(viewerID, postID); err != nil {
		return false, err
	}
	bookmarked, err := a.store.ToggleBookmark(postID, viewerID)
	if err != nil {
		return false, fmt.Errorf("toggle bookmark: %w", err)
	}
	return bookmarked, nil
}

// ToggleVisibility flips public/private. Owner only.
func (a *App) ToggleVisibility(viewerID, postID string) (bool, error) {
	post, err := a.GetPost(viewerID, postID)
	if err != nil {
		return false, err
	}
	if post.OwnerID != viewerID {
		return false, ErrForbidden
	}
	post.IsPublic = !post.IsPublic
	if err := a.store.UpdatePost(post); err != nil {
		return false, fmt.Errorf("toggle visibility: %w", err)
	}
	return post.IsPublic, nil
}

// AddComment appends a comment to a visible post.
func (a *App) AddComment(viewerID, postID, content string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, fmt.Errorf("%w: comment content required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > 1000 {
		return domain.Comment{}, fmt.Errorf("%w: comment too long", ErrInvalidInput)
	}
	if _, err := a.GetPost(viewerID, postID); err != nil {
		return domain.Comment{}, err
	}
	comment := domain.Comment{
		ID:        util.NewID(),
		PostID:    postID,
		AuthorID:  viewerID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateComment(comment); err != nil {
		return domain.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// Comments lists a post's comments, newest first.
func (a *App) Comments(viewerID, postID string, offset, limit int) ([]domain.Comment, error) {
	if _, err := a.GetPost(viewerID, postID); err != nil {
		return nil, err
	}
	comments, err := a.store.ListComments(postID, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
