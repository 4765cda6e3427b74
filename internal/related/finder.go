// Package related links threads whose summaries are close in embedding space.
package related

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

// DefaultThreshold is the minimum cosine similarity for two threads to be related.
const DefaultThreshold = 0.70

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type cachedEmbedding struct {
	summary string
	vector  []float64
}

// Finder compares a thread's summary with the other active threads of its
// chat. Embeddings are cached per thread until its summary changes.
type Finder struct {
	store     storage.Storage
	embedder  Embedder
	threshold float64
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]cachedEmbedding
}

func NewFinder(store storage.Storage, embedder Embedder, threshold float64, logger *zap.Logger) *Finder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Finder{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
		cache:     make(map[uuid.UUID]cachedEmbedding),
	}
}

// FindRelated returns the active threads of the same chat whose summaries
// reach the similarity threshold. A thread without a summary has no
// related threads.
func (f *Finder) FindRelated(ctx context.Context, thread *models.Thread) ([]*models.Thread, error) {
	source, err := f.context(ctx, thread.ID)
	if err != nil || source == nil {
		return nil, err
	}
	sourceVec, err := f.embedding(ctx, source)
	if err != nil {
		return nil, err
	}

	candidates, err := f.store.ActiveThreads(ctx, thread.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load candidate threads: %w", err)
	}

	var related []*models.Thread
	for _, other := range candidates {
		if other.ID == thread.ID {
			continue
		}
		otherCtx, err := f.context(ctx, other.ID)
		if err != nil {
			return nil, err
		}
		if otherCtx == nil {
			continue
		}
		otherVec, err := f.embedding(ctx, otherCtx)
		if err != nil {
			f.logger.Warn("Skipping thread without embedding",
				zap.String("thread_id", other.ID.String()),
				zap.Error(err))
			continue
		}
		similarity := CosineSimilarity(sourceVec, otherVec)
		if similarity >= f.threshold {
			related = append(related, other)
		}
	}
	return related, nil
}

// Link finds related threads and records the symmetric links.
func (f *Finder) Link(ctx context.Context, thread *models.Thread) ([]*models.Thread, error) {
	related, err := f.FindRelated(ctx, thread)
	if err != nil {
		return nil, err
	}
	for _, other := range related {
		if err := f.store.LinkThreads(ctx, thread.ID, other.ID); err != nil {
			return related, fmt.Errorf("link threads %s and %s: %w", thread.ID, other.ID, err)
		}
	}
	return related, nil
}

// Forget drops the cached embedding of a thread.
func (f *Finder) Forget(threadID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, threadID)
}

func (f *Finder) context(ctx context.Context, threadID uuid.UUID) (*models.ThreadContext, error) {
	tc, err := f.store.GetThreadContext(ctx, threadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context of thread %s: %w", threadID, err)
	}
	if tc.Summary == "" {
		return nil, nil
	}
	return tc, nil
}

func (f *Finder) embedding(ctx context.Context, tc *models.ThreadContext) ([]float64, error) {
	f.mu.Lock()
	cached, exists := f.cache[tc.ThreadID]
	f.mu.Unlock()
	if exists && cached.summary == tc.Summary {
		return cached.vector, nil
	}

	vec, err := f.embedder.Embed(ctx, tc.Summary)
	if err != nil {
		return nil, fmt.Errorf("embed summary of thread %s: %w", tc.ThreadID, err)
	}

	f.mu.Lock()
	f.cache[tc.ThreadID] = cachedEmbedding{summary: tc.Summary, vector: vec}
	f.mu.Unlock()
	return vec, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty, zero or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
