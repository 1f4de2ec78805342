package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docgram/internal/app"
	"docgram/internal/usertoken"
	"docgram/internal/util"
	"docgram/pkg/domain"
	"docgram/pkg/queue"
	"docgram/pkg/storage"
	"docgram/pkg/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{float32(sum % 97), float32(sum % 89), float32(sum % 83)}, nil
}

type fakeGenerator struct {
	answer string
}

func (f *fakeGenerator) GenerateText(_ context.Context, _, _ string) (string, error) {
	return f.answer, nil
}

type serverEnv struct {
	srv   *httptest.Server
	app   *app.App
	store *store.MemoryStore
	jobs  *queue.MemoryJobQueue
}

func newServerEnv(t *testing.T, cfg Config) *serverEnv {
	t.Helper()
	tokens, err := usertoken.NewManager(usertoken.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	st := store.NewMemoryStore()
	jobs := queue.NewMemoryJobQueue(64, 3)
	a := app.New(st, storage.NewMemoryObjectStore(), jobs, fakeEmbedder{},
		&fakeGenerator{answer: "The document says hello."}, tokens, app.Config{
			ChunkSize:    100,
			ChunkOverlap: 20,
			TopK:         5,
		}, nil)
	cfg.App = a
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &serverEnv{srv: srv, app: a, store: st, jobs: jobs}
}

func (e *serverEnv) doJSON(t *testing.T, method, path, token string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, fields
}

func (e *serverEnv) register(t *testing.T, username string) (domain.User, string) {
	t.Helper()
	resp, fields := e.doJSON(t, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Str0ng#Password!",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	var user domain.User
	if err := json.Unmarshal(fields["user"], &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	var token string
	if err := json.Unmarshal(fields["token"], &token); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return user, token
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newServerEnv(t, Config{})
	user, token := env.register(t, "alice")

	resp, fields := env.doJSON(t, http.MethodPost, "/login", "", map[string]string{
		"username": "alice",
		"password": "Str0ng#Password!",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	if string(fields["token"]) == "" {
		t.Fatal("login returned no token")
	}

	resp, fields = env.doJSON(t, http.MethodGet, "/users/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	var me domain.User
	if err := json.Unmarshal(mustMarshalFields(t, fields), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ID != user.ID || me.Username != "alice" {
		t.Fatalf("me = %+v", me)
	}

	resp, _ = env.doJSON(t, http.MethodGet, "/users/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me status = %d", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodPost, "/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "Str0ng#Password!",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", resp.StatusCode)
	}
}

func mustMarshalFields(t *testing.T, fields map[string]json.RawMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return raw
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newServerEnv(t, Config{})
	env.register(t, "alice")

	resp, _ := env.doJSON(t, http.MethodPost, "/login", "", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}
}

func TestFollowToggleOverHTTP(t *testing.T) {
	env := newServerEnv(t, Config{})
	_, aliceToken := env.register(t, "alice")
	bob, _ := env.register(t, "bob")

	resp, fields := env.doJSON(t, http.MethodPost, "/users/"+bob.ID+"/follow", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("follow status = %d", resp.StatusCode)
	}
	if string(fields["following"]) != "true" || string(fields["followers_count"]) != "1" {
		t.Fatalf("follow response = %v", rawFields(fields))
	}

	resp, fields = env.doJSON(t, http.MethodPost, "/users/"+bob.ID+"/follow", aliceToken, nil)
	if resp.StatusCode != http.StatusOK || string(fields["following"]) != "false" {
		t.Fatalf("unfollow status = %d, response = %v", resp.StatusCode, rawFields(fields))
	}

	// Self-follow is rejected.
	var alice domain.User
	resp, meFields := env.doJSON(t, http.MethodGet, "/users/me", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(mustMarshalFields(t, meFields), &alice); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp, _ = env.doJSON(t, http.MethodPost, "/users/"+alice.ID+"/follow", aliceToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self-follow status = %d", resp.StatusCode)
	}
}

func rawFields(fields map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = string(v)
	}
	return out
}

func TestProfileUpdateOverHTTP(t *testing.T) {
	env := newServerEnv(t, Config{})
	_, token := env.register(t, "alice")

	resp, fields := env.doJSON(t, http.MethodPut, "/users/profile", token, map[string]string{
		"first_name": "Alice",
		"bio":        "reads PDFs",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	var updated domain.User
	if err := json.Unmarshal(mustMarshalFields(t, fields), &updated); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if updated.FirstName != "Alice" || updated.Bio != "reads PDFs" {
		t.Fatalf("updated user = %+v", updated)
	}

	// Username change re-validates the pattern.
	resp, _ = env.doJSON(t, http.MethodPut, "/users/profile", token, map[string]string{
		"username": "no spaces allowed",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad username status = %d", resp.StatusCode)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newServerEnv(t, Config{
		Redis:                      client,
		RegisterRateLimitPerMinute: 2,
	})
	for i := 0; i < 2; i++ {
		resp, _ := env.doJSON(t, http.MethodPost, "/register", "", map[string]string{
			"username": fmt.Sprintf("user%d", i),
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": "Str0ng#Password!",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("register %d status = %d", i, resp.StatusCode)
		}
	}
	resp, _ := env.doJSON(t, http.MethodPost, "/register", "", map[string]string{
		"username": "user3",
		"email":    "user3@example.com",
		"password": "Str0ng#Password!",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("limited register status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newServerEnv(t, Config{})
	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

// uploadFile posts a multipart form with an inline file part.
func (e *serverEnv) uploadFile(t *testing.T, token, filename, contentType string, contents []byte, form map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(contents); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range form {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/posts", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, fields
}

// seedReadyPost inserts a processed post with one embedded chunk,
// bypassing the upload pipeline.
func (e *serverEnv) seedReadyPost(t *testing.T, ownerID string, public bool) domain.Post {
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
	chunk := domain.Chunk{
		ID:        util.NewID(),
		PostID:    post.ID,
		Index:     0,
		Content:   "hello from the document",
		CreatedAt: now,
	}
	if err := e.store.ReplaceChunks(post.ID, []domain.Chunk{chunk}); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	vec, err := fakeEmbedder{}.EmbedText(context.Background(), chunk.Content, "")
	if err != nil {
		t.Fatalf("seed embedding: %v", err)
	}
	if err := e.store.SetChunkEmbedding(chunk.ID, vec); err != nil {
		t.Fatalf("seed embedding: %v", err)
	}
	return post
}
