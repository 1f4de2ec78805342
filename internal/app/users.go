package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"docgram/internal/util"
	"docgram/pkg/auth"
	"docgram/pkg/domain"
	"docgram/pkg/store"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

type RegisterParams struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bio       string `json:"bio"`
}

// Register creates a user and returns it with a signed access token.
func (a *App) Register(p RegisterParams) (domain.User, string, error) {
	username := strings.TrimSpace(p.Username)
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if !usernamePattern.MatchString(username) {
		return domain.User{}, "", fmt.Errorf("%w: username must be 3-30 word characters", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if err := auth.ValidatePassword(p.Password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		Bio:          strings.TrimSpace(p.Bio),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, "", fmt.Errorf("%w: username or email taken", ErrConflict)
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	a.logger.Info("user_registered", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Login checks credentials for a username or email and returns the
// user with a fresh access token.
func (a *App) Login(identifier, password string) (domain.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return domain.User{}, "", ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByUsername(identifier)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if !ok {
		user, ok, err = a.store.GetUserByEmail(strings.ToLower(identifier))
		if err != nil {
			return domain.User{}, "", fmt.Errorf("load user: %w", err)
		}
	}
	if !ok || !user.IsActive || !auth.CheckPassword(password, user.PasswordHash) {
		a.logger.Warn("login_failed", "identifier", identifier)
		return domain.User{}, "", ErrUnauthorized
	}
	now := time.Now().UTC()
	if err := a.store.SetLastLogin(user.ID, now); err != nil {
		a.logger.Warn("set_last_login_failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to an active user.
func (a *App) Authenticate(token string) (domain.User, error) {
	userID, err := a.tokens.VerifySubject(token)
	if err != nil {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok || !user.IsActive {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// GetUser loads a user by ID.
func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// Profile returns a user together with the viewer's follow edge.
func (a *App) Profile(viewerID, userID string) (domain.User, bool, error) {
	user, err := a.GetUser(userID)
	if err != nil {
		return domain.User{}, false, err
	}
	following := false
	if viewerID != "" && viewerID != userID {
		following, err = a.store.IsFollowing(viewerID, userID)
		if err != nil {
			return domain.User{}, false, fmt.Errorf("check follow: %w", err)
		}
	}
	return user, following, nil
}

type UpdateProfileParams struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateProfile applies partial profile edits for the caller.
// Username and email changes go through the same validation as
// registration; uniqueness is re-checked by the store.
func (a *App) UpdateProfile(userID string, p UpdateProfileParams) (domain.User, error) {
	user, err := a.GetUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	if p.Username != nil {
		username := strings.TrimSpace(*p.Username)
		if !usernamePattern.MatchString(username) {
			return domain.User{}, fmt.Errorf("%w: username must be 3-30 word characters", ErrInvalidInput)
		}
		user.Username = username
	}
	if p.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*p.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.User{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
		user.Email = email
	}
	if p.FirstName != nil {
		user.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		user.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Bio != nil {
		user.Bio = strings.TrimSpace(*p.Bio)
	}
	if p.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*p.AvatarURL)
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("%w: username or email taken", ErrConflict)
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return a.GetUser(userID)
}

const maxAvatarBytes = 5 << 20

var avatarContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// UploadAvatar stores a profile image and points the user's avatar URL
// at it. Accepts JPEG and PNG up to 5MB.
func (a *App) UploadAvatar(ctx context.Context, userID, contentType string, data []byte) (domain.User, error) {
	if len(data) == 0 {
		return domain.User{}, fmt.Errorf("%w: avatar file required", ErrInvalidInput)
	}
	if len(data) > maxAvatarBytes {
		return domain.User{}, fmt.Errorf("%w: avatar exceeds 5MB", ErrInvalidInput)
	}
	ext, ok := avatarContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: avatar must be JPEG or PNG", ErrInvalidInput)
	}
	user, err := a.GetUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	key := fmt.Sprintf("avatars/%s/%s%s", userID, util.NewID(), ext)
	if err := a.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.User{}, fmt.Errorf("store avatar: %w", err)
	}
	url, err := a.blobs.PresignGet(ctx, key, a.cfg.DownloadTTL)
	if err != nil {
		return domain.User{}, fmt.Errorf("presign avatar: %w", err)
	}
	user.AvatarURL = url
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	a.logger.Info("avatar_uploaded", "user_id", userID, "key", key, "size", len(data))
	return user, nil
}

// ToggleFollow flips the follow edge from follower to followee.
func (a *App) ToggleFollow(followerID, followeeID string) (store.FollowCounts, error) {
	if followerID == followeeID {
		return store.FollowCounts{}, fmt.Errorf("%w: cannot follow yourself", ErrInvalidInput)
	}
	if _, err := a.GetUser(followeeID); err != nil {
		return store.FollowCounts{}, err
	}
	counts, err := a.store.ToggleFollow(followerID, followeeID)
	if err != nil {
		return store.FollowCounts{}, fmt.Errorf("toggle follow: %w", err)
	}
	return counts, nil
}

// Followers lists the users following userID, newest first.
func (a *App) Followers(userID string, offset, limit int) ([]domain.User, error) {
	if _, err := a.GetUser(userID); err != nil {
		return nil, err
	}
	users, err := a.store.ListFollowers(userID, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return users, nil
}

// Following lists the users userID follows, newest first.
func (a *App) Following(userID string, offset, limit int) ([]domain.User, error) {
	if _, err := a.GetUser(userID); err != nil {
		return nil, err
	}
	users, err := a.store.ListFollowing(userID, offset, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return users, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
