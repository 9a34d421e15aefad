package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/memory"
	"github.com/koscakluka/reality-quest/internal/utils"
	"github.com/m-mizutani/goerr/v2"
)

const memoryColumns = `id, image_url, summary, source_request_id, emotion_tag, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (game.MemoryItem, error) {
	var (
		item       game.MemoryItem
		emotionTag sql.NullString
		createdAt  int64
	)
	if err := row.Scan(&item.ID, &item.ImageURL, &item.Summary, &item.SourceRequestID, &emotionTag, &createdAt); err != nil {
		return game.MemoryItem{}, err
	}
	if emotionTag.Valid {
		item.EmotionTag = &emotionTag.String
	}
	item.CreatedAt = time.UnixMilli(createdAt).UTC()
	return item, nil
}

// ListMemories returns every memory, newest first.
func (s *Store) ListMemories(ctx context.Context) ([]game.MemoryItem, error) {
	ctx, span := tracer.Start(ctx, "sqlite.list_memories")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	items := []game.MemoryItem{}
	for rows.Next() {
		item, err := scanMemory(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memories")
	}
	return items, nil
}

// RandomMemory returns nil when nothing has been saved yet.
func (s *Store) RandomMemory(ctx context.Context) (*game.MemoryItem, error) {
	ctx, span := tracer.Start(ctx, "sqlite.random_memory")
	defer span.End()

	item, err := scanMemory(s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY random() LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to pick random memory")
	}
	return &item, nil
}

// SaveMemory stores the photo as a data URL with a summary from the
// configured summarizer. The first matched object becomes the emotion tag.
func (s *Store) SaveMemory(ctx context.Context, input game.SaveMemoryInput) (game.MemoryItem, error) {
	ctx, span := tracer.Start(ctx, "sqlite.save_memory")
	defer span.End()

	if err := memory.ValidateInput(input); err != nil {
		return game.MemoryItem{}, err
	}

	summary := memory.FallbackSummary(input)
	if s.summarizer != nil {
		summary = s.summarizer.Summarize(ctx, input)
	}

	item := game.MemoryItem{
		ID:              uuid.NewString(),
		ImageURL:        memory.ImageURL(input.ImageBase64),
		Summary:         summary,
		CreatedAt:       time.UnixMilli(s.now().UnixMilli()).UTC(),
		SourceRequestID: input.SourceRequestID,
	}
	if len(input.MatchedObjects) > 0 {
		item.EmotionTag = utils.Ptr(input.MatchedObjects[0])
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.ImageURL, item.Summary, item.SourceRequestID, item.EmotionTag, item.CreatedAt.UnixMilli(),
	); err != nil {
		return game.MemoryItem{}, goerr.Wrap(err, "failed to insert memory", goerr.V("source_request_id", input.SourceRequestID))
	}

	logger.Info("memory saved", "id", item.ID, "source_request_id", item.SourceRequestID)
	return item, nil
}
