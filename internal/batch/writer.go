// Package batch splits bulk writes into transactions no larger than the
// document store's per-batch limit.
package batch

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/retry"
)

// DefaultSize is the per-batch operation limit of the store.
const DefaultSize = 400

// CommitFunc writes one chunk atomically. cursor is the key of the last
// item in the chunk; committers persist it with the chunk so the job can
// resume after it.
type CommitFunc[T any] func(ctx context.Context, chunk []T, cursor string) error

// Writer commits items chunk by chunk in key order.
type Writer[T any] struct {
	Job    string
	Size   int
	Key    func(T) string
	Policy retry.Policy
	Logger *zap.Logger
}

// Result summarises a finished write.
type Result struct {
	Chunks  int
	Written int
	Cursor  string
}

// Write sorts items by key, skips those at or before after, and commits
// the rest in chunks. A failed chunk stops the write and returns a
// *errs.PartialBatchFailure describing what was already committed.
func (w *Writer[T]) Write(ctx context.Context, items []T, after string, commit CommitFunc[T]) (Result, error) {
	size := w.Size
	if size <= 0 || size > DefaultSize {
		size = DefaultSize
	}
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pending := make([]T, 0, len(items))
	for _, it := range items {
		if after != "" && w.Key(it) <= after {
			continue
		}
		pending = append(pending, it)
	}
	sort.SliceStable(pending, func(i, j int) bool { return w.Key(pending[i]) < w.Key(pending[j]) })

	res := Result{Cursor: after}
	var committed []string
	for start, chunkIdx := 0, 0; start < len(pending); start, chunkIdx = start+size, chunkIdx+1 {
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		cursor := w.Key(chunk[len(chunk)-1])

		err := retry.Exec(ctx, w.Policy, fmt.Sprintf("%s chunk %d", w.Job, chunkIdx), func(ctx context.Context) error {
			return commit(ctx, chunk, cursor)
		})
		if err != nil {
			log.Error("batch chunk failed",
				zap.String("job", w.Job),
				zap.Int("chunk", chunkIdx),
				zap.Int("committed", len(committed)),
				zap.String("resume_after", res.Cursor),
				zap.Error(err))
			return res, &errs.PartialBatchFailure{
				Job:         w.Job,
				FailedChunk: chunkIdx,
				Committed:   committed,
				Cursor:      res.Cursor,
				Err:         err,
			}
		}

		for _, it := range chunk {
			committed = append(committed, w.Key(it))
		}
		res.Chunks++
		res.Written += len(chunk)
		res.Cursor = cursor
		log.Debug("batch chunk committed",
			zap.String("job", w.Job),
			zap.Int("chunk", chunkIdx),
			zap.Int("size", len(chunk)),
			zap.String("cursor", cursor))
	}
	return res, nil
}
