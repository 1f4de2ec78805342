package store

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"docgram/pkg/domain"
)

// MemoryStore is an in-memory Store for tests and local development.
// It mirrors GormStore's counter and toggle semantics.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[string]domain.User
	posts         map[string]domain.Post
	comments      map[string]domain.Comment
	follows       map[[2]string]time.Time // (follower, followee)
	likes         map[[2]string]time.Time // (post, user)
	bookmarks     map[[2]string]time.Time // (post, user)
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
	chunks        map[string]domain.Chunk
	embeddings    map[string][]float32 // chunk id -> vector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		posts:         make(map[string]domain.Post),
		comments:      make(map[string]domain.Comment),
		follows:       make(map[[2]string]time.Time),
		likes:         make(map[[2]string]time.Time),
		bookmarks:     make(map[[2]string]time.Time),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string]domain.Message),
		chunks:        make(map[string]domain.Chunk),
		embeddings:    make(map[string][]float32),
	}
}

var _ Store = (*MemoryStore)(nil)

// Users

func (s *MemoryStore) CreateUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) UpdateUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return nil
	}
	for id, existing := range s.users {
		if id == u.ID {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrConflict
		}
	}
	cur.Username = u.Username
	cur.Email = u.Email
	cur.FirstName = u.FirstName
	cur.LastName = u.LastName
	cur.Bio = u.Bio
	cur.AvatarURL = u.AvatarURL
	cur.IsActive = u.IsActive
	cur.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = cur
	return nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) SetLastLogin(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastLoginAt = &at
		s.users[id] = u
	}
	return nil
}

// Follow graph

func (s *MemoryStore) ToggleFollow(followerID, followeeID string) (FollowCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{followerID, followeeID}
	var out FollowCounts
	if _, ok := s.follows[key]; ok {
		delete(s.follows, key)
		s.bumpUser(followeeID, func(u *domain.User) { u.FollowersCount = max64(u.FollowersCount-1, 0) })
		s.bumpUser(followerID, func(u *domain.User) { u.FollowingCount = max64(u.FollowingCount-1, 0) })
	} else {
		s.follows[key] = time.Now().UTC()
		s.bumpUser(followeeID, func(u *domain.User) { u.FollowersCount++ })
		s.bumpUser(followerID, func(u *domain.User) { u.FollowingCount++ })
		out.Following = true
	}
	out.TargetFollowers = s.users[followeeID].FollowersCount
	out.OwnFollowing = s.users[followerID].FollowingCount
	return out, nil
}

func (s *MemoryStore) bumpUser(id string, f func(*domain.User)) {
	if u, ok := s.users[id]; ok {
		f(&u)
		s.users[id] = u
	}
}

func (s *MemoryStore) IsFollowing(followerID, followeeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.follows[[2]string{followerID, followeeID}]
	return ok, nil
}

func (s *MemoryStore) ListFollowers(userID string, offset, limit int) ([]domain.User, error) {
	return s.listEdgeUsers(userID, false, offset, limit)
}

func (s *MemoryStore) ListFollowing(userID string, offset, limit int) ([]domain.User, error) {
	return s.listEdgeUsers(userID, true, offset, limit)
}

func (s *MemoryStore) listEdgeUsers(userID string, following bool, offset, limit int) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type edge struct {
		other string
		at    time.Time
	}
	var edges []edge
	for key, at := range s.follows {
		if following && key[0] == userID {
			edges = append(edges, edge{key[1], at})
		} else if !following && key[1] == userID {
			edges = append(edges, edge{key[0], at})
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].at.After(edges[j].at) })
	var out []domain.User
	for i, e := range edges {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if u, ok := s.users[e.other]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) FollowedUserIDs(userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for key := range s.follows {
		if key[0] == userID {
			ids = append(ids, key[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Posts

func (s *MemoryStore) CreatePost(p domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
	s.bumpUser(p.OwnerID, func(u *domain.User) { u.PostsCount++ })
	return nil
}

func (s *MemoryStore) UpdatePost(p domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.posts[p.ID]
	if !ok {
		return nil
	}
	cur.Title = p.Title
	cur.Description = p.Description
	cur.IsPublic = p.IsPublic
	cur.UpdatedAt = time.Now().UTC()
	s.posts[p.ID] = cur
	return nil
}

func (s *MemoryStore) SetPostStatus(id string, status domain.PostStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		p.Status = status
		p.ErrorMessage = errMsg
		p.UpdatedAt = time.Now().UTC()
		s.posts[id] = p
	}
	return nil
}

func (s *MemoryStore) SetPostPageCount(id string, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		p.PageCount = pages
		s.posts[id] = p
	}
	return nil
}

func (s *MemoryStore) GetPost(id string) (domain.Post, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p, ok, nil
}

func (s *MemoryStore) DeletePost(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil
	}
	delete(s.posts, id)
	for cid, c := range s.comments {
		if c.PostID == id {
			delete(s.comments, cid)
		}
	}
	for key := range s.likes {
		if key[0] == id {
			delete(s.likes, key)
		}
	}
	for key := range s.bookmarks {
		if key[0] == id {
			delete(s.bookmarks, key)
		}
	}
	for convID, conv := range s.conversations {
		if conv.PostID != id {
			continue
		}
		for mid, m := range s.messages {
			if m.ConversationID == convID {
				delete(s.messages, mid)
			}
		}
		delete(s.conversations, convID)
	}
	for cid, c := range s.chunks {
		if c.PostID == id {
			delete(s.chunks, cid)
			delete(s.embeddings, cid)
		}
	}
	s.bumpUser(p.OwnerID, func(u *domain.User) { u.PostsCount = max64(u.PostsCount-1, 0) })
	return nil
}

func (s *MemoryStore) ListPublicPosts(offset, limit int) ([]domain.Post, error) {
	return s.filterPosts(func(p domain.Post) bool { return p.IsPublic }, offset, limit)
}

func (s *MemoryStore) ListPostsByOwner(ownerID string, includePrivate bool, offset, limit int) ([]domain.Post, error) {
	return s.filterPosts(func(p domain.Post) bool {
		return p.OwnerID == ownerID && (includePrivate || p.IsPublic)
	}, offset, limit)
}

func (s *MemoryStore) ListFeedPosts(viewerID string, ownerIDs []string, offset, limit int) ([]domain.Post, error) {
	owners := make(map[string]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}
	return s.filterPosts(func(p domain.Post) bool {
		return p.OwnerID == viewerID || (owners[p.OwnerID] && p.IsPublic)
	}, offset, limit)
}

func (s *MemoryStore) SearchPosts(query string, offset, limit int) ([]domain.Post, error) {
	q := strings.ToLower(query)
	return s.filterPosts(func(p domain.Post) bool {
		return p.IsPublic &&
			(strings.Contains(strings.ToLower(p.Title), q) ||
				strings.Contains(strings.ToLower(p.Description), q))
	}, offset, limit)
}

func (s *MemoryStore) filterPosts(keep func(domain.Post) bool, offset, limit int) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.Post
	for _, p := range s.posts {
		if keep(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Likes and bookmarks

func (s *MemoryStore) ToggleLike(postID, userID string) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{postID, userID}
	p, ok := s.posts[postID]
	if !ok {
		return false, 0, nil
	}
	var liked bool
	if _, have := s.likes[key]; have {
		delete(s.likes, key)
		p.LikesCount = max64(p.LikesCount-1, 0)
	} else {
		s.likes[key] = time.Now().UTC()
		p.LikesCount++
		liked = true
	}
	s.posts[postID] = p
	return liked, p.LikesCount, nil
}

func (s *MemoryStore) ToggleBookmark(postID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{postID, userID}
	if _, have := s.bookmarks[key]; have {
		delete(s.bookmarks, key)
		return false, nil
	}
	s.bookmarks[key] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) HasLike(postID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likes[[2]string{postID, userID}]
	return ok, nil
}

func (s *MemoryStore) HasBookmark(postID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bookmarks[[2]string{postID, userID}]
	return ok, nil
}

// Comments

func (s *MemoryStore) CreateComment(c domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
	if p, ok := s.posts[c.PostID]; ok {
		p.CommentsCount++
		s.posts[c.PostID] = p
	}
	return nil
}

func (s *MemoryStore) ListComments(postID string, offset, limit int) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Comment
	for _, c := range s.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Conversations and messages

func (s *MemoryStore) GetConversationByPostUser(postID, userID string) (domain.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.PostID == postID && c.UserID == userID {
			return c, true, nil
		}
	}
	return domain.Conversation{}, false, nil
}

func (s *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok, nil
}

func (s *MemoryStore) CreateConversation(c domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.PostID == c.PostID && existing.UserID == c.UserID {
			return ErrConflict
		}
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) TouchConversation(id string, lastMessageAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.LastMessageAt = &lastMessageAt
		c.UpdatedAt = lastMessageAt
		s.conversations[id] = c
	}
	return nil
}

func (s *MemoryStore) AppendMessage(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) FinalizeMessage(id, content string, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.MessagePending {
		return nil
	}
	m.Content = content
	m.Status = status
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListConversationMessages(conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Chunks

func (s *MemoryStore) ReplaceChunks(postID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.PostID == postID {
			delete(s.chunks, id)
			delete(s.embeddings, id)
		}
	}
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

// ListChunksByPost returns a post's chunk set ordered by index. Test
// helper for inspecting pipeline output.
func (s *MemoryStore) ListChunksByPost(postID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) SetChunkEmbedding(id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; ok {
		vec := make([]float32, len(embedding))
		copy(vec, embedding)
		s.embeddings[id] = vec
	}
	return nil
}

func (s *MemoryStore) SearchChunks(postID string, embedding []float32, limit int) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		chunk domain.Chunk
		dist  float64
	}
	var candidates []scored
	for id, c := range s.chunks {
		if c.PostID != postID {
			continue
		}
		vec, ok := s.embeddings[id]
		if !ok {
			continue
		}
		candidates = append(candidates, scored{c, cosineDistance(embedding, vec)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]domain.Chunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.chunk)
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
