package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docgram/internal/util"
	"docgram/pkg/domain"
	"docgram/pkg/queue"
)

// AskQuestion records the user's question plus a pending assistant
// placeholder, then enqueues the answer job. Both messages are returned
// so the client can render the conversation immediately.
func (a *App) AskQuestion(ctx context.Context, userID, postID, question string) (domain.Message, domain.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Message{}, domain.Message{}, fmt.Errorf("%w: question required", ErrInvalidInput)
	}
	// Unprocessed posts are accepted: the answer job finds no chunks
	// and finalizes the placeholder as failed.
	if _, err := a.GetPost(userID, postID); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	conv, err := a.ensureConversation(postID, userID)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        question,
		CreatedAt:      now,
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save question: %w", err)
	}
	placeholder := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        thinkingPlaceholder,
		Status:         domain.MessagePending,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := a.store.AppendMessage(placeholder); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save placeholder: %w", err)
	}
	if err := a.store.TouchConversation(conv.ID, placeholder.CreatedAt); err != nil {
		a.logger.Warn("touch_conversation_failed", "conversation_id", conv.ID, "error", err)
	}

	if _, err := a.jobs.Enqueue(ctx, queue.KindAnswerQuestion, queue.Payload{
		PostID:         postID,
		ConversationID: conv.ID,
		MessageID:      placeholder.ID,
		QuestionID:     userMsg.ID,
		Question:       question,
	}); err != nil {
		a.logger.Error("enqueue_answer_failed", "message_id", placeholder.ID, "error", err)
		_ = a.store.FinalizeMessage(placeholder.ID, answerFallback, domain.MessageFailed)
		placeholder.Content = answerFallback
		placeholder.Status = domain.MessageFailed
	}
	return userMsg, placeholder, nil
}

func (a *App) ensureConversation(postID, userID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversationByPostUser(postID, userID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if ok {
		return conv, nil
	}
	now := time.Now().UTC()
	conv = domain.Conversation{
		ID:        util.NewID(),
		PostID:    postID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(conv); err != nil {
		// Lost a race with a concurrent first question; load the winner.
		existing, ok, loadErr := a.store.GetConversationByPostUser(postID, userID)
		if loadErr == nil && ok {
			return existing, nil
		}
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Messages returns the viewer's conversation with a post, oldest first.
// An empty slice is returned when no conversation exists yet.
func (a *App) Messages(userID, postID string, limit int) ([]domain.Message, error) {
	if _, err := a.GetPost(userID, postID); err != nil {
		return nil, err
	}
	conv, ok, err := a.store.GetConversationByPostUser(postID, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return []domain.Message{}, nil
	}
	msgs, err := a.store.ListConversationMessages(conv.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessage removes one message from the caller's own conversation.
func (a *App) DeleteMessage(userID, messageID string) error {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	conv, ok, err := a.store.GetConversation(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !ok || conv.UserID != userID {
		return ErrNotFound
	}
	if err := a.store.DeleteMessage(messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// AnswerQuestion is the background half of the chat flow. It always
// leaves the placeholder in a terminal state and never asks the queue
// to retry; a failed answer surfaces to the user as the fallback text.
func (a *App) AnswerQuestion(ctx context.Context, p queue.Payload) error {
	msg, ok, err := a.store.GetMessage(p.MessageID)
	if err != nil {
		a.logger.Error("load_placeholder_failed", "message_id", p.MessageID, "error", err)
		return nil
	}
	if !ok || msg.Status != domain.MessagePending {
		// Already finalized (or gone); nothing to do.
		return nil
	}

	answer, err := a.generateAnswer(ctx, p)
	if err != nil {
		a.logger.Warn("answer_failed", "message_id", p.MessageID, "post_id", p.PostID, "error", err)
		if finErr := a.store.FinalizeMessage(p.MessageID, answerFallback, domain.MessageFailed); finErr != nil {
			a.logger.Error("finalize_failed", "message_id", p.MessageID, "error", finErr)
		}
		return nil
	}
	if err := a.store.FinalizeMessage(p.MessageID, answer, domain.MessageAnswered); err != nil {
		a.logger.Error("finalize_failed", "message_id", p.MessageID, "error", err)
	}
	return nil
}

func (a *App) generateAnswer(ctx context.Context, p queue.Payload) (string, error) {
	post, ok, err := a.store.GetPost(p.PostID)
	if err != nil {
		return "", fmt.Errorf("load post: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("post %s gone", p.PostID)
	}

	embedCtx, cancel := context.WithTimeout(ctx, a.cfg.AICallTimeout)
	queryEmbedding, err := a.embedder.EmbedText(embedCtx, p.Question, "RETRIEVAL_QUERY")
	cancel()
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}

	chunks, err := a.store.SearchChunks(p.PostID, queryEmbedding, a.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("search chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("no embedded chunks for post %s", p.PostID)
	}

	var history []domain.Message
	if a.cfg.HistoryLimit > 0 {
		msgs, err := a.store.ListConversationMessages(p.ConversationID, 0)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
		history = recentHistory(msgs, p.QuestionID, p.MessageID, a.cfg.HistoryLimit*2)
	}

	systemPrompt := "You are a helpful assistant answering questions about a PDF document. " +
		"Answer strictly from the provided excerpts and say so when they are insufficient."
	userPrompt := buildPrompt(post.Title, p.Question, chunks, history, a.cfg.ContextBudget)

	genCtx, cancel := context.WithTimeout(ctx, a.cfg.AICallTimeout)
	defer cancel()
	answer, err := a.generator.GenerateText(genCtx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("empty answer")
	}
	return answer, nil
}

// buildPrompt assembles the retrieval context under a character budget
// plus optional conversation history.
func buildPrompt(title, question string, chunks []domain.Chunk, history []domain.Message, budget int) string {
	var ctxBuf strings.Builder
	used := 0
	for i, chunk := range chunks {
		entry := fmt.Sprintf("[%d]%s %s\n\n", i+1, chunkLocation(chunk.Metadata), chunk.Content)
		if used+len(entry) > budget && used > 0 {
			break
		}
		ctxBuf.WriteString(entry)
		used += len(entry)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n", title)
	if text := buildHistory(history); text != "" {
		fmt.Fprintf(&sb, "Conversation so far:\n%s\n\n", text)
	}
	fmt.Fprintf(&sb, "Question: %s\n\nExcerpts:\n%s", question, ctxBuf.String())
	sb.WriteString("Answer the question using the excerpts above.")
	return sb.String()
}

// recentHistory drops the in-flight question/placeholder pair, then
// keeps the most recent limit messages, oldest first. The question is
// already in the prompt's Question line, so repeating it in the
// history would skew the model toward answering it twice.
func recentHistory(msgs []domain.Message, questionID, placeholderID string, limit int) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == questionID || m.ID == placeholderID {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func buildHistory(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Status == domain.MessagePending {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			role = "message"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func chunkLocation(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	if page := strings.TrimSpace(meta["page"]); page != "" {
		return " (page " + page + ")"
	}
	return ""
}
