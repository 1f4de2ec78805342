package queue

import (
	"context"
	"time"
)

// Job kinds understood by the background processor.
const (
	KindProcessPost    = "process_post"
	KindAnswerQuestion = "answer_question"
)

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Payload carries job arguments. Fields are set per kind: process_post
// uses PostID; answer_question uses all of them. MessageID is the
// assistant placeholder, QuestionID the user message it answers.
type Payload struct {
	PostID         string `json:"post_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	QuestionID     string `json:"question_id,omitempty"`
	Question       string `json:"question,omitempty"`
}

// Job is one unit of background work plus its tracked status.
type Job struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Payload      Payload   `json:"payload"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Handler processes one job. A nil return acknowledges the job; an
// error marks the attempt failed and the job is retried until the
// backend's retry budget runs out.
type Handler func(ctx context.Context, job Job) error

// Queue is the job transport between the API and the background
// processor. Implementations must deliver each job to a handler at
// least once.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload Payload) (Job, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}
