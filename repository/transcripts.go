package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/intervue/backend/models"
)

// MaxSequenceNumber returns the highest sequence number of a session, 0 when it has no turns
func (r *GORMRepository) MaxSequenceNumber(ctx context.Context, sessionID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&models.Transcript{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence number: %w", err)
	}
	return max, nil
}

// CreateTranscript inserts a turn. A reused (session_id, sequence_number) yields ErrDuplicate.
func (r *GORMRepository) CreateTranscript(ctx context.Context, transcript *models.Transcript) error {
	if err := r.db.WithContext(ctx).Create(transcript).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sequence %d of session %s: %w", transcript.SequenceNumber, transcript.SessionID, ErrDuplicate)
		}
		slog.Error("Failed to create transcript", "error", err, "session_id", transcript.SessionID)
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	return nil
}

// GetTranscripts returns the turns of a session in ascending sequence order
func (r *GORMRepository) GetTranscripts(ctx context.Context, sessionID string) ([]models.Transcript, error) {
	var transcripts []models.Transcript
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_number ASC").
		Find(&transcripts).Error
	if err != nil {
		slog.Error("Failed to get transcripts", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get transcripts: %w", err)
	}
	return transcripts, nil
}

// CountTranscripts counts the turns of a session, optionally restricted to one role
func (r *GORMRepository) CountTranscripts(ctx context.Context, sessionID string, role models.Role) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&models.Transcript{}).Where("session_id = ?", sessionID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count transcripts: %w", err)
	}
	return n, nil
}
