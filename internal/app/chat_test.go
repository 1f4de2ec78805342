package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docgram/pkg/domain"
	"docgram/pkg/queue"
)

func TestAskQuestionAnswersPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	post := env.seedReadyPost(t, owner.ID, true, "chapter one about databases", "chapter two about indexes")
	ctx := context.Background()

	userMsg, placeholder, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "what is chapter one about?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if userMsg.Role != domain.RoleUser || userMsg.Content != "what is chapter one about?" {
		t.Fatalf("user message = %+v", userMsg)
	}
	if placeholder.Role != domain.RoleAssistant || placeholder.Content != "Thinking..." || placeholder.Status != domain.MessagePending {
		t.Fatalf("placeholder = %+v", placeholder)
	}

	env.drain()

	msgs, err := env.app.Messages(owner.ID, post.ID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	final := msgs[1]
	if final.ID != placeholder.ID || final.Status != domain.MessageAnswered {
		t.Fatalf("final placeholder = %+v", final)
	}
	if final.Content != "The document says hello." {
		t.Fatalf("answer = %q", final.Content)
	}
}

func TestAskQuestionFallsBackOnGeneratorError(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = errors.New("model unavailable")
	owner := env.registerUser(t, "alice")
	post := env.seedReadyPost(t, owner.ID, true, "some content")
	ctx := context.Background()

	_, placeholder, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "anything?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	env.drain()

	got, ok, _ := env.store.GetMessage(placeholder.ID)
	if !ok {
		t.Fatal("placeholder missing")
	}
	if got.Status != domain.MessageFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Content != "Sorry, I'm having trouble processing your question right now." {
		t.Fatalf("fallback content = %q", got.Content)
	}
}

func TestAskQuestionFailsGracefullyWithoutChunks(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	// Ready post with no chunks at all.
	post := env.seedReadyPost(t, owner.ID, true)
	ctx := context.Background()

	_, placeholder, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "anything?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	env.drain()

	got, _, _ := env.store.GetMessage(placeholder.ID)
	if got.Status != domain.MessageFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if env.gen.calls != 0 {
		t.Fatalf("generator called %d times without context", env.gen.calls)
	}
}

func TestAskQuestionOnUnprocessedPostDegrades(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	post := env.seedReadyPost(t, owner.ID, true, "content")
	if err := env.store.ReplaceChunks(post.ID, nil); err != nil {
		t.Fatalf("clear chunks: %v", err)
	}
	if err := env.store.SetPostStatus(post.ID, domain.PostProcessing, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, placeholder, err := env.app.AskQuestion(context.Background(), owner.ID, post.ID, "q?")
	if err != nil {
		t.Fatalf("ask on processing post: %v", err)
	}
	env.drain()

	final, ok, err := env.store.GetMessage(placeholder.ID)
	if err != nil || !ok {
		t.Fatalf("load placeholder: ok=%v err=%v", ok, err)
	}
	if final.Status != domain.MessageFailed || final.Content != answerFallback {
		t.Fatalf("placeholder = %+v, want failed fallback", final)
	}
	if env.gen.calls != 0 {
		t.Fatalf("generator called %d times on zero-context post", env.gen.calls)
	}
}

func TestConversationIsPerUser(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	other := env.registerUser(t, "bob")
	post := env.seedReadyPost(t, owner.ID, true, "shared content")
	ctx := context.Background()

	if _, _, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "owner question"); err != nil {
		t.Fatalf("owner ask: %v", err)
	}
	if _, _, err := env.app.AskQuestion(ctx, other.ID, post.ID, "other question"); err != nil {
		t.Fatalf("other ask: %v", err)
	}
	env.drain()

	ownerMsgs, _ := env.app.Messages(owner.ID, post.ID, 0)
	otherMsgs, _ := env.app.Messages(other.ID, post.ID, 0)
	if len(ownerMsgs) != 2 || len(otherMsgs) != 2 {
		t.Fatalf("message counts: owner=%d other=%d", len(ownerMsgs), len(otherMsgs))
	}
	if ownerMsgs[0].ConversationID == otherMsgs[0].ConversationID {
		t.Fatal("conversations must be separate per user")
	}

	// A second question reuses the same conversation.
	if _, _, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "followup"); err != nil {
		t.Fatalf("followup: %v", err)
	}
	env.drain()
	ownerMsgs, _ = env.app.Messages(owner.ID, post.ID, 0)
	if len(ownerMsgs) != 4 {
		t.Fatalf("followup count = %d, want 4", len(ownerMsgs))
	}
	for _, m := range ownerMsgs {
		if m.ConversationID != ownerMsgs[0].ConversationID {
			t.Fatal("followup landed in a different conversation")
		}
	}
}

func TestAnswerPromptHistoryExcludesCurrentQuestion(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	post := env.seedReadyPost(t, owner.ID, true, "chapter one", "chapter two")
	ctx := context.Background()

	if _, _, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "what is the first topic?"); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	env.drain()
	if _, _, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "and the second topic?"); err != nil {
		t.Fatalf("second ask: %v", err)
	}
	env.drain()

	prompt := env.gen.lastPrompt
	if got := strings.Count(prompt, "and the second topic?"); got != 1 {
		t.Fatalf("current question appears %d times in prompt:\n%s", got, prompt)
	}
	if !strings.Contains(prompt, "what is the first topic?") {
		t.Fatalf("previous question missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "The document says hello.") {
		t.Fatalf("previous answer missing from prompt:\n%s", prompt)
	}
}

func TestRecentHistoryKeepsNewestWindow(t *testing.T) {
	msgs := make([]domain.Message, 0, 6)
	for i := 0; i < 6; i++ {
		msgs = append(msgs, domain.Message{ID: string(rune('a' + i))})
	}
	got := recentHistory(msgs, "e", "f", 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "d" {
		t.Fatalf("recentHistory = %+v", got)
	}
}

func TestDeleteMessageOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	other := env.registerUser(t, "bob")
	post := env.seedReadyPost(t, owner.ID, true, "content")
	ctx := context.Background()

	userMsg, _, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "q?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	env.drain()

	if err := env.app.DeleteMessage(other.ID, userMsg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete = %v, want ErrNotFound", err)
	}
	if err := env.app.DeleteMessage(owner.ID, userMsg.ID); err != nil {
		t.Fatalf("own delete: %v", err)
	}
	if err := env.app.DeleteMessage(owner.ID, userMsg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete = %v, want ErrNotFound", err)
	}
}

func TestAnswerQuestionSkipsFinalizedPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice")
	post := env.seedReadyPost(t, owner.ID, true, "content")
	ctx := context.Background()

	_, placeholder, err := env.app.AskQuestion(ctx, owner.ID, post.ID, "q?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	env.drain()
	before, _, _ := env.store.GetMessage(placeholder.ID)
	calls := env.gen.calls

	// A duplicate delivery of the same job must be a no-op.
	if err := env.app.AnswerQuestion(ctx, queue.Payload{
		PostID:         post.ID,
		ConversationID: before.ConversationID,
		MessageID:      before.ID,
		Question:       "q?",
	}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	after, _, _ := env.store.GetMessage(placeholder.ID)
	if after.Content != before.Content || after.Status != before.Status {
		t.Fatalf("redelivery changed message: %+v -> %+v", before, after)
	}
	if env.gen.calls != calls {
		t.Fatalf("generator re-invoked on redelivery")
	}
}
