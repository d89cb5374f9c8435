package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/roomscan/internal/models"
)

var (
	ErrScanSessionNotFound      = errors.New("scan session not found")
	ErrScanSessionNotProcessing = errors.New("scan session is not processing")
)

const scanSessionColumns = `
	id, property_id, room_id, user_id, status, provider_name,
	image_storage_refs, result_metadata, error_message, created_at, updated_at`

func scanScanSession(row pgx.Row) (*models.ScanSession, error) {
	session := &models.ScanSession{}
	var metadata []byte

	err := row.Scan(
		&session.ID, &session.PropertyID, &session.RoomID, &session.UserID,
		&session.Status, &session.ProviderName,
		&session.ImageStorageRefs, &metadata, &session.Error,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		session.ResultMetadata = &models.ScanResultMetadata{}
		if err := json.Unmarshal(metadata, session.ResultMetadata); err != nil {
			return nil, fmt.Errorf("decode result metadata: %w", err)
		}
	}

	return session, nil
}

// CreateScanSession inserts a new session in PROCESSING
func (db *DB) CreateScanSession(ctx context.Context, req *models.CreateScanSessionRequest) (*models.ScanSession, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO scan_sessions (property_id, room_id, user_id, status, provider_name)
		VALUES ($1, $2, $3, 'PROCESSING', $4)
		RETURNING `+scanSessionColumns,
		req.PropertyID, req.RoomID, req.UserID, req.ProviderName,
	)
	return scanScanSession(row)
}

// GetScanSession retrieves a session by ID
func (db *DB) GetScanSession(ctx context.Context, id uuid.UUID) (*models.ScanSession, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+scanSessionColumns+` FROM scan_sessions WHERE id = $1`, id)
	session, err := scanScanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// SetScanSessionImageRefs records where archived photos were stored
func (db *DB) SetScanSessionImageRefs(ctx context.Context, id uuid.UUID, refs []string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE scan_sessions
		SET image_storage_refs = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, refs)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrScanSessionNotProcessing
	}
	return nil
}

// CountScanSessionsByUserSince counts sessions a user started at or after since
func (db *DB) CountScanSessionsByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM scan_sessions WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count)
	return count, err
}

// CountScanSessionsByPropertySince counts sessions on a property at or after since
func (db *DB) CountScanSessionsByPropertySince(ctx context.Context, propertyID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM scan_sessions WHERE property_id = $1 AND created_at >= $2
	`, propertyID, since).Scan(&count)
	return count, err
}

// CompleteScanSession writes every draft and flips the session to COMPLETE in
// one transaction. Nothing is written if any insert fails.
func (db *DB) CompleteScanSession(ctx context.Context, id uuid.UUID, metadata *models.ScanResultMetadata, drafts []models.CreateDraftItemRequest) ([]models.DraftItem, error) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode result metadata: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var propertyID, roomID, userID uuid.UUID
	var status models.ScanStatus
	err = tx.QueryRow(ctx, `
		SELECT property_id, room_id, user_id, status
		FROM scan_sessions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&propertyID, &roomID, &userID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanSessionNotFound
		}
		return nil, err
	}
	if status != models.ScanStatusProcessing {
		return nil, ErrScanSessionNotProcessing
	}

	batch := &pgx.Batch{}
	for _, d := range drafts {
		var dupID *uuid.UUID
		var dupScore *float64
		var dupSameRoom *bool
		if d.DuplicateMatch != nil {
			dupID = &d.DuplicateMatch.ExistingItemID
			dupScore = &d.DuplicateMatch.Score
			dupSameRoom = &d.DuplicateMatch.SameRoom
		}
		batch.Queue(`
			INSERT INTO draft_items (property_id, room_id, user_id, scan_session_id, status, source,
			                         name, dedup_key, category, name_confidence, category_confidence,
			                         duplicate_item_id, duplicate_score, duplicate_same_room)
			VALUES ($1, $2, $3, $4, 'DRAFT', $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING `+draftItemColumns,
			propertyID, roomID, userID, id, models.DraftSourceRoomPhotoAI,
			d.Name, d.DedupKey, d.Category, d.Confidence.Name, d.Confidence.Category,
			dupID, dupScore, dupSameRoom,
		)
	}

	created := make([]models.DraftItem, 0, len(drafts))
	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for range drafts {
			item, err := scanDraftItem(results.QueryRow())
			if err != nil {
				results.Close()
				return nil, fmt.Errorf("insert draft item: %w", err)
			}
			created = append(created, *item)
		}
		if err := results.Close(); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE scan_sessions
		SET status = 'COMPLETE', result_metadata = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, encoded)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return created, nil
}

// FailScanSession moves a PROCESSING session to FAILED
func (db *DB) FailScanSession(ctx context.Context, id uuid.UUID, message string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE scan_sessions
		SET status = 'FAILED', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, message)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrScanSessionNotProcessing
	}
	return nil
}

// GetScanSessionSummary returns the poll view of a session owned by userID.
// draft_count counts only items still in DRAFT.
func (db *DB) GetScanSessionSummary(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) (*models.ScanSessionSummary, error) {
	summary := &models.ScanSessionSummary{}

	err := db.Pool.QueryRow(ctx, `
		SELECT s.id, s.status, s.provider_name, s.error_message, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM draft_items d WHERE d.scan_session_id = s.id AND d.status = 'DRAFT')
		FROM scan_sessions s
		WHERE s.id = $1 AND s.property_id = $2 AND s.room_id = $3 AND s.user_id = $4
	`, sessionID, propertyID, roomID, userID).Scan(
		&summary.SessionID, &summary.Status, &summary.Provider, &summary.Error,
		&summary.CreatedAt, &summary.UpdatedAt, &summary.DraftCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanSessionNotFound
		}
		return nil, err
	}

	return summary, nil
}

// ListStaleScanSessions returns sessions still PROCESSING that were created
// before cutoff. The server logs them at startup.
func (db *DB) ListStaleScanSessions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id FROM scan_sessions WHERE status = 'PROCESSING' AND created_at < $1 ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
