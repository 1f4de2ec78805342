package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"docgram/internal/util"
	"docgram/pkg/ai"
	"docgram/pkg/domain"
	"docgram/pkg/queue"
)

// HandleJob is the queue handler: it dispatches by job kind. Errors
// returned here make the queue retry, so only the document pipeline
// propagates them; answer jobs finalize their own state.
func (a *App) HandleJob(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindProcessPost:
		return a.ProcessPost(ctx, job.Payload.PostID)
	case queue.KindAnswerQuestion:
		return a.AnswerQuestion(ctx, job.Payload)
	default:
		a.logger.Warn("unknown_job_kind", "kind", job.Kind, "job_id", job.ID)
		return nil
	}
}

// ProcessPost runs the document pipeline: download, extract, chunk,
// embed, mark ready. A returned error leaves the post failed and lets
// the queue retry within its budget.
func (a *App) ProcessPost(ctx context.Context, postID string) error {
	post, ok, err := a.store.GetPost(postID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	if !ok {
		// Deleted while queued; nothing to process.
		return nil
	}
	if err := a.store.SetPostStatus(postID, domain.PostProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	start := time.Now()

	if err := a.runPipeline(ctx, post); err != nil {
		if stErr := a.store.SetPostStatus(postID, domain.PostFailed, err.Error()); stErr != nil {
			a.logger.Error("mark_failed_failed", "post_id", postID, "error", stErr)
		}
		a.logger.Warn("post_processing_failed", "post_id", postID, "error", err)
		return err
	}

	if err := a.store.SetPostStatus(postID, domain.PostReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	a.logger.Info("post_processed", "post_id", postID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (a *App) runPipeline(ctx context.Context, post domain.Post) error {
	rc, err := a.blobs.Get(ctx, post.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch blob: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	pages, parts, err := extractPDF(data, a.cfg.ChunkSize, a.cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	if pages > 0 && pages != post.PageCount {
		if err := a.store.SetPostPageCount(post.ID, pages); err != nil {
			a.logger.Warn("set_page_count_failed", "post_id", post.ID, "error", err)
		}
	}

	return a.storeAndEmbedChunks(ctx, post.ID, parts)
}

// storeAndEmbedChunks swaps the post's chunk set for the extracted
// parts and embeds them. Replacing rather than appending keeps reruns
// of the pipeline from accumulating duplicates.
func (a *App) storeAndEmbedChunks(ctx context.Context, postID string, parts []documentChunk) error {
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			ID:        util.NewID(),
			PostID:    postID,
			Index:     i,
			Content:   part.Content,
			Metadata:  part.Metadata,
			CreatedAt: now,
		})
	}
	if err := a.store.ReplaceChunks(postID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return a.embedChunks(ctx, chunks)
}

// embedChunks embeds in bounded parallel batches. One failed chunk
// fails the pipeline so the retry re-embeds a consistent set.
func (a *App) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	if batcher, ok := a.embedder.(ai.BatchEmbedder); ok {
		return a.embedChunkBatches(ctx, batcher, chunks)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.EmbedConcurrency)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			embedCtx, cancel := context.WithTimeout(ctx, a.cfg.AICallTimeout)
			defer cancel()
			vec, err := a.embedder.EmbedText(embedCtx, chunk.Content, "RETRIEVAL_DOCUMENT")
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunk.Index, err)
			}
			if err := a.store.SetChunkEmbedding(chunk.ID, vec); err != nil {
				return fmt.Errorf("store embedding %d: %w", chunk.Index, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) embedChunkBatches(ctx context.Context, batcher ai.BatchEmbedder, chunks []domain.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.EmbedConcurrency)
	for start := 0; start < len(chunks); start += a.cfg.EmbedBatchSize {
		end := start + a.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			embedCtx, cancel := context.WithTimeout(ctx, a.cfg.AICallTimeout)
			defer cancel()
			vecs, err := batcher.EmbedTexts(embedCtx, texts, "RETRIEVAL_DOCUMENT")
			if err != nil {
				return fmt.Errorf("embed batch at %d: %w", batch[0].Index, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed batch at %d: got %d vectors for %d texts", batch[0].Index, len(vecs), len(batch))
			}
			for i, c := range batch {
				if err := a.store.SetChunkEmbedding(c.ID, vecs[i]); err != nil {
					return fmt.Errorf("store embedding %d: %w", c.Index, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
