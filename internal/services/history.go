package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"

	"github.com/tahcohcat/vocalize-web/internal/database"
	"github.com/tahcohcat/vocalize-web/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200

	// previewLength is how many characters of the text are kept.
	previewLength = 80
)

var ErrNotFound = errors.New("record not found")

var synthesisColumns = []string{
	"id", "created_at", "audio_id", "text_preview", "text_length",
	"requested_engine", "engine_used", "fallback_used",
	"language", "accent", "voice_gender", "actual_gender", "voice_used",
	"audio_format", "file_name", "byte_size", "duration_ms",
}

type HistoryService struct {
	db *database.DB
}

func NewHistoryService(db *database.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Preview shortens text to the stored preview length.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength-1]) + "…"
}

// Record stores rec and fills in its id and creation time.
func (s *HistoryService) Record(ctx context.Context, rec *models.Synthesis) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.TextPreview = Preview(rec.TextPreview)

	query, args, err := sq.Insert("syntheses").SetMap(map[string]interface{}{
		"created_at":       rec.CreatedAt,
		"audio_id":         rec.AudioID,
		"text_preview":     rec.TextPreview,
		"text_length":      rec.TextLength,
		"requested_engine": rec.RequestedEngine,
		"engine_used":      rec.EngineUsed,
		"fallback_used":    rec.FallbackUsed,
		"language":         rec.Language,
		"accent":           rec.Accent,
		"voice_gender":     rec.VoiceGender,
		"actual_gender":    rec.ActualGender,
		"voice_used":       rec.VoiceUsed,
		"audio_format":     rec.AudioFormat,
		"file_name":        rec.FileName,
		"byte_size":        rec.ByteSize,
		"duration_ms":      rec.DurationMS,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record synthesis: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get synthesis ID: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *HistoryService) Get(ctx context.Context, id int64) (*models.Synthesis, error) {
	query, args, err := sq.Select(synthesisColumns...).From("syntheses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rec models.Synthesis
	if err := s.db.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get synthesis: %w", err)
	}
	return &rec, nil
}

// Latest returns the most recent record.
func (s *HistoryService) Latest(ctx context.Context) (*models.Synthesis, error) {
	recs, err := s.List(ctx, models.HistoryFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// List returns records newest first.
func (s *HistoryService) List(ctx context.Context, filter models.HistoryFilter) ([]models.Synthesis, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	qb := sq.Select(synthesisColumns...).From("syntheses").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}
	if filter.Engine != "" {
		qb = qb.Where(sq.Eq{"engine_used": filter.Engine})
	}
	if filter.Language != "" {
		qb = qb.Where(sq.Eq{"language": filter.Language})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	recs := []models.Synthesis{}
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list syntheses: %w", err)
	}
	return recs, nil
}

func (s *HistoryService) Stats(ctx context.Context) (*models.HistoryStats, error) {
	query, args, err := sq.Select("engine_used", "COUNT(*) AS count").
		From("syntheses").
		GroupBy("engine_used").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []struct {
		Engine string `db:"engine_used"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count syntheses: %w", err)
	}

	stats := &models.HistoryStats{ByEngine: make(map[string]int, len(rows))}
	for _, r := range rows {
		stats.ByEngine[r.Engine] = r.Count
		stats.Total += r.Count
	}

	query, args, err = sq.Select("COUNT(*)").From("syntheses").Where(sq.Eq{"fallback_used": true}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.Fallbacks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count fallbacks: %w", err)
	}

	return stats, nil
}
