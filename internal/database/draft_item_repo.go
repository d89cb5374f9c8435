package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/roomscan/internal/models"
)

var (
	ErrDraftItemNotFound   = errors.New("draft item not found")
	ErrDraftItemNotPending = errors.New("draft item already reviewed")
)

const draftItemColumns = `
	id, property_id, room_id, user_id, scan_session_id, status, source,
	name, category, name_confidence, category_confidence,
	duplicate_item_id, duplicate_score, duplicate_same_room,
	created_at, updated_at`

func scanDraftItem(row pgx.Row) (*models.DraftItem, error) {
	item := &models.DraftItem{}
	var dupID *uuid.UUID
	var dupScore *float64
	var dupSameRoom *bool

	err := row.Scan(
		&item.ID, &item.PropertyID, &item.RoomID, &item.UserID, &item.ScanSessionID,
		&item.Status, &item.Source,
		&item.Name, &item.Category, &item.Confidence.Name, &item.Confidence.Category,
		&dupID, &dupScore, &dupSameRoom,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dupID != nil {
		item.DuplicateMatch = &models.DuplicateMatch{ExistingItemID: *dupID}
		if dupScore != nil {
			item.DuplicateMatch.Score = *dupScore
		}
		if dupSameRoom != nil {
			item.DuplicateMatch.SameRoom = *dupSameRoom
		}
	}

	return item, nil
}

// ListDraftItemsBySession returns every draft of a session owned by userID
func (db *DB) ListDraftItemsBySession(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) ([]models.DraftItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+draftItemColumns+`
		FROM draft_items
		WHERE scan_session_id = $1 AND property_id = $2 AND room_id = $3 AND user_id = $4
		ORDER BY created_at, name
	`, sessionID, propertyID, roomID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.DraftItem{}
	for rows.Next() {
		item, err := scanDraftItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DismissDraftItem moves a DRAFT to DISMISSED
func (db *DB) DismissDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.DraftItem, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockPendingDraft(ctx, tx, id, userID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE draft_items SET status = 'DISMISSED', updated_at = NOW()
		WHERE id = $1
		RETURNING `+draftItemColumns, id)
	item, err := scanDraftItem(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return item, nil
}

// ConfirmDraftItem moves a DRAFT to CONFIRMED and creates the inventory item
// it describes in the same transaction.
func (db *DB) ConfirmDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.ConfirmDraftResult, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockPendingDraft(ctx, tx, id, userID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE draft_items SET status = 'CONFIRMED', updated_at = NOW()
		WHERE id = $1
		RETURNING `+draftItemColumns, id)
	item, err := scanDraftItem(row)
	if err != nil {
		return nil, err
	}

	result := &models.ConfirmDraftResult{Draft: *item}
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_items (property_id, room_id, name, category)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, item.PropertyID, item.RoomID, item.Name, item.Category).Scan(&result.InventoryItemID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func lockPendingDraft(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) error {
	var status models.DraftStatus
	err := tx.QueryRow(ctx, `
		SELECT status FROM draft_items WHERE id = $1 AND user_id = $2 FOR UPDATE
	`, id, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDraftItemNotFound
		}
		return err
	}
	if status != models.DraftStatusDraft {
		return ErrDraftItemNotPending
	}
	return nil
}
