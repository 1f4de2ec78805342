package app

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"
	"time"

	"docgram/internal/usertoken"
	"docgram/internal/util"
	"docgram/pkg/domain"
	"docgram/pkg/queue"
	"docgram/pkg/storage"
	"docgram/pkg/store"
)

// fakeEmbedder returns a deterministic vector per text so retrieval
// order is stable in tests.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	v := h.Sum32()
	return []float32{float32(v%97) + 1, float32(v%89) + 1, float32(v%83) + 1}, nil
}

type fakeGenerator struct {
	answer     string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	f.calls++
	f.lastPrompt = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type testEnv struct {
	app   *App
	store *store.MemoryStore
	blobs *storage.MemoryObjectStore
	jobs  *queue.MemoryJobQueue
	gen   *fakeGenerator
	emb   *fakeEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := usertoken.NewManager(usertoken.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	st := store.NewMemoryStore()
	blobs := storage.NewMemoryObjectStore()
	jobs := queue.NewMemoryJobQueue(64, 3)
	gen := &fakeGenerator{answer: "The document says hello."}
	emb := &fakeEmbedder{}
	a := New(st, blobs, jobs, emb, gen, tokens, Config{
		ChunkSize:    100,
		ChunkOverlap: 20,
		TopK:         5,
		HistoryLimit: 5,
	}, nil)
	return &testEnv{app: a, store: st, blobs: blobs, jobs: jobs, gen: gen, emb: emb}
}

// drain runs all queued background jobs synchronously.
func (e *testEnv) drain() {
	e.jobs.Drain(context.Background(), e.app.HandleJob)
}

func (e *testEnv) registerUser(t *testing.T, username string) domain.User {
	t.Helper()
	user, _, err := e.app.Register(RegisterParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "Str0ng#Password!",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user
}

// seedReadyPost inserts a ready post with embedded chunks, bypassing
// the upload pipeline.
func (e *testEnv) seedReadyPost(t *testing.T, ownerID string, public bool, contents ...string) domain.Post {
	t.Helper()
	now := time.Now().UTC()
	post := domain.Post{
		ID:         util.NewID(),
		OwnerID:    ownerID,
		Title:      "seeded",
		StorageKey: "posts/seeded.pdf",
		IsPublic:   public,
		Status:     domain.PostReady,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreatePost(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	chunks := make([]domain.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, domain.Chunk{
			ID:        util.NewID(),
			PostID:    post.ID,
			Index:     i,
			Content:   content,
			CreatedAt: now,
		})
	}
	if err := e.store.ReplaceChunks(post.ID, chunks); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}
	for _, c := range chunks {
		vec, err := e.emb.EmbedText(context.Background(), c.Content, "")
		if err != nil {
			t.Fatalf("seed embedding: %v", err)
		}
		if err := e.store.SetChunkEmbedding(c.ID, vec); err != nil {
			t.Fatalf("seed embedding: %v", err)
		}
	}
	return post
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "alice")

	got, token, err := env.app.Login("alice", "Str0ng#Password!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || got.LastLoginAt == nil {
		t.Fatalf("login user = %+v", got)
	}

	authed, err := env.app.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("authenticated as %s, want %s", authed.ID, user.ID)
	}

	if _, _, err := env.app.Login("alice", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad password: %v", err)
	}
	if _, err := env.app.Authenticate("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad token: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		p    RegisterParams
	}{
		{"bad username", RegisterParams{Username: "x", Email: "x@example.com", Password: "Str0ng#Password!"}},
		{"bad email", RegisterParams{Username: "valid_name", Email: "nope", Password: "Str0ng#Password!"}},
		{"weak password", RegisterParams{Username: "valid_name", Email: "v@example.com", Password: "weak"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := env.app.Register(tc.p); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("got %v, want ErrInvalidInput", err)
			}
		})
	}

	env.registerUser(t, "taken")
	_, _, err := env.app.Register(RegisterParams{
		Username: "taken",
		Email:    "other@example.com",
		Password: "Str0ng#Password!",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username: %v", err)
	}
}

func TestToggleFollowSelfRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "alice")
	if _, err := env.app.ToggleFollow(user.ID, user.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self follow: %v", err)
	}
	if _, err := env.app.ToggleFollow(user.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("follow missing user: %v", err)
	}
}
