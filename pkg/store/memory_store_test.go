package store

import (
	"testing"
	"time"

	"docgram/pkg/domain"
)

func seedUser(t *testing.T, s *MemoryStore, id, username string) {
	t.Helper()
	err := s.CreateUser(domain.User{
		ID:        id,
		Username:  username,
		Email:     username + "@example.com",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}

func seedPost(t *testing.T, s *MemoryStore, id, ownerID string, public bool) {
	t.Helper()
	err := s.CreatePost(domain.Post{
		ID:        id,
		OwnerID:   ownerID,
		Title:     "doc " + id,
		IsPublic:  public,
		Status:    domain.PostReady,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreatePost(%s): %v", id, err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	err := s.CreateUser(domain.User{ID: "u2", Username: "alice", Email: "other@example.com"})
	if err != ErrConflict {
		t.Fatalf("duplicate username: got %v, want ErrConflict", err)
	}
	err = s.CreateUser(domain.User{ID: "u3", Username: "bob", Email: "alice@example.com"})
	if err != ErrConflict {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}
}

func TestToggleFollowAdjustsCounters(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	seedUser(t, s, "u2", "bob")

	out, err := s.ToggleFollow("u1", "u2")
	if err != nil {
		t.Fatalf("ToggleFollow: %v", err)
	}
	if !out.Following || out.TargetFollowers != 1 || out.OwnFollowing != 1 {
		t.Fatalf("after follow: %+v", out)
	}

	out, err = s.ToggleFollow("u1", "u2")
	if err != nil {
		t.Fatalf("ToggleFollow: %v", err)
	}
	if out.Following || out.TargetFollowers != 0 || out.OwnFollowing != 0 {
		t.Fatalf("after unfollow: %+v", out)
	}
}

func TestToggleLikeIsIdempotentPerPair(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	seedPost(t, s, "p1", "u1", true)

	liked, likes, err := s.ToggleLike("p1", "u1")
	if err != nil || !liked || likes != 1 {
		t.Fatalf("first toggle: liked=%v likes=%d err=%v", liked, likes, err)
	}
	liked, likes, err = s.ToggleLike("p1", "u1")
	if err != nil || liked || likes != 0 {
		t.Fatalf("second toggle: liked=%v likes=%d err=%v", liked, likes, err)
	}
}

func TestDeletePostCascades(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	seedUser(t, s, "u2", "bob")
	seedPost(t, s, "p1", "u1", true)

	if err := s.CreateComment(domain.Comment{ID: "c1", PostID: "p1", AuthorID: "u2", Content: "hi", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if _, _, err := s.ToggleLike("p1", "u2"); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	if err := s.CreateConversation(domain.Conversation{ID: "conv1", PostID: "p1", UserID: "u2", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.AppendMessage(domain.Message{ID: "m1", ConversationID: "conv1", Role: domain.RoleUser, Content: "q", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.ReplaceChunks("p1", []domain.Chunk{{ID: "ch1", PostID: "p1", Index: 0, Content: "text"}}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	if err := s.DeletePost("p1"); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}

	if _, ok, _ := s.GetPost("p1"); ok {
		t.Fatal("post still present after delete")
	}
	if comments, _ := s.ListComments("p1", 0, 10); len(comments) != 0 {
		t.Fatalf("comments not cascaded: %d left", len(comments))
	}
	if _, ok, _ := s.GetConversation("conv1"); ok {
		t.Fatal("conversation still present after delete")
	}
	if _, ok, _ := s.GetMessage("m1"); ok {
		t.Fatal("message still present after delete")
	}
	if chunks, _ := s.ListChunksByPost("p1"); len(chunks) != 0 {
		t.Fatalf("chunks not cascaded: %d left", len(chunks))
	}
	owner, _, _ := s.GetUserByID("u1")
	if owner.PostsCount != 0 {
		t.Fatalf("posts_count = %d after delete, want 0", owner.PostsCount)
	}
}

func TestReplaceChunksIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	seedPost(t, s, "p1", "u1", true)

	build := func(run string) []domain.Chunk {
		return []domain.Chunk{
			{ID: run + "-ch0", PostID: "p1", Index: 0, Content: "first part"},
			{ID: run + "-ch1", PostID: "p1", Index: 1, Content: "second part"},
			{ID: run + "-ch2", PostID: "p1", Index: 2, Content: "third part"},
		}
	}

	if err := s.ReplaceChunks("p1", build("a")); err != nil {
		t.Fatalf("first ReplaceChunks: %v", err)
	}
	for _, c := range build("a") {
		if err := s.SetChunkEmbedding(c.ID, []float32{1, 2, 3}); err != nil {
			t.Fatalf("SetChunkEmbedding(%s): %v", c.ID, err)
		}
	}

	// A second pipeline run over the same document must leave the same
	// chunk set, not accumulate duplicates.
	if err := s.ReplaceChunks("p1", build("b")); err != nil {
		t.Fatalf("second ReplaceChunks: %v", err)
	}

	chunks, err := s.ListChunksByPost("p1")
	if err != nil {
		t.Fatalf("ListChunksByPost: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunk count after rerun = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if c.Content != build("b")[i].Content {
			t.Fatalf("chunk %d content = %q", i, c.Content)
		}
	}

	// Stale embeddings from the replaced set must be gone until the new
	// chunks are embedded.
	if found, _ := s.SearchChunks("p1", []float32{1, 2, 3}, 10); len(found) != 0 {
		t.Fatalf("stale embedded chunks after rerun: %d", len(found))
	}
}

func TestFinalizeMessageOnlyFromPending(t *testing.T) {
	s := NewMemoryStore()
	msg := domain.Message{
		ID:             "m1",
		ConversationID: "conv1",
		Role:           domain.RoleAssistant,
		Content:        "Thinking...",
		Status:         domain.MessagePending,
		CreatedAt:      time.Now(),
	}
	if err := s.AppendMessage(msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.FinalizeMessage("m1", "the answer", domain.MessageAnswered); err != nil {
		t.Fatalf("FinalizeMessage: %v", err)
	}
	got, _, _ := s.GetMessage("m1")
	if got.Status != domain.MessageAnswered || got.Content != "the answer" {
		t.Fatalf("after finalize: %+v", got)
	}

	// A second finalize must not overwrite the terminal state.
	if err := s.FinalizeMessage("m1", "late failure", domain.MessageFailed); err != nil {
		t.Fatalf("FinalizeMessage(second): %v", err)
	}
	got, _, _ = s.GetMessage("m1")
	if got.Status != domain.MessageAnswered || got.Content != "the answer" {
		t.Fatalf("terminal state overwritten: %+v", got)
	}
}

func TestSearchChunksRanksByCosineDistance(t *testing.T) {
	s := NewMemoryStore()
	chunks := []domain.Chunk{
		{ID: "ch0", PostID: "p1", Index: 0, Content: "about cats"},
		{ID: "ch1", PostID: "p1", Index: 1, Content: "about dogs"},
		{ID: "ch2", PostID: "p1", Index: 2, Content: "unembedded"},
	}
	if err := s.ReplaceChunks("p1", chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := s.SetChunkEmbedding("ch0", []float32{1, 0}); err != nil {
		t.Fatalf("SetChunkEmbedding: %v", err)
	}
	if err := s.SetChunkEmbedding("ch1", []float32{0, 1}); err != nil {
		t.Fatalf("SetChunkEmbedding: %v", err)
	}

	got, err := s.SearchChunks("p1", []float32{0.9, 0.1}, 5)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2 (unembedded excluded)", len(got))
	}
	if got[0].ID != "ch0" || got[1].ID != "ch1" {
		t.Fatalf("ranking wrong: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestFeedExcludesPrivateAndStrangers(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "alice")
	seedUser(t, s, "u2", "bob")
	seedUser(t, s, "u3", "carol")
	seedPost(t, s, "p1", "u2", true)
	seedPost(t, s, "p2", "u2", false)
	seedPost(t, s, "p3", "u3", true)

	if _, err := s.ToggleFollow("u1", "u2"); err != nil {
		t.Fatalf("ToggleFollow: %v", err)
	}
	ids, err := s.FollowedUserIDs("u1")
	if err != nil {
		t.Fatalf("FollowedUserIDs: %v", err)
	}
	feed, err := s.ListFeedPosts("u1", ids, 0, 10)
	if err != nil {
		t.Fatalf("ListFeedPosts: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != "p1" {
		t.Fatalf("feed = %+v, want only p1", feed)
	}

	// A follower's own private posts still show in their feed.
	seedPost(t, s, "p4", "u1", false)
	feed, err = s.ListFeedPosts("u1", ids, 0, 10)
	if err != nil {
		t.Fatalf("ListFeedPosts: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed = %+v, want p1 and p4", feed)
	}
}
