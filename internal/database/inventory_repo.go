package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/roomscan/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// GetRoomForProperty returns the room only if it belongs to the property
func (db *DB) GetRoomForProperty(ctx context.Context, propertyID, roomID uuid.UUID) (*models.Room, error) {
	room := &models.Room{}

	err := db.Pool.QueryRow(ctx, `
		SELECT id, property_id, name, room_type, created_at
		FROM rooms
		WHERE id = $1 AND property_id = $2
	`, roomID, propertyID).Scan(&room.ID, &room.PropertyID, &room.Name, &room.RoomType, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return room, nil
}

// ListRoomInventorySummaries returns up to limit items placed in the room
func (db *DB) ListRoomInventorySummaries(ctx context.Context, propertyID, roomID uuid.UUID, limit int) ([]models.InventoryItemSummary, error) {
	return db.queryInventorySummaries(ctx, `
		SELECT id, name, category, room_id
		FROM inventory_items
		WHERE property_id = $1 AND room_id = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`, propertyID, roomID, limit)
}

// ListRecentPropertyInventorySummaries returns the most recently updated
// items across the whole property
func (db *DB) ListRecentPropertyInventorySummaries(ctx context.Context, propertyID uuid.UUID, limit int) ([]models.InventoryItemSummary, error) {
	return db.queryInventorySummaries(ctx, `
		SELECT id, name, category, room_id
		FROM inventory_items
		WHERE property_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, propertyID, limit)
}

func (db *DB) queryInventorySummaries(ctx context.Context, query string, args ...interface{}) ([]models.InventoryItemSummary, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.InventoryItemSummary
	for rows.Next() {
		var item models.InventoryItemSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.RoomID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
