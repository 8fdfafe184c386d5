package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type RoomRepository struct {
	pool PgxPool
}

func NewRoomRepository(pool PgxPool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (name, is_active, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query, room.Name, room.IsActive).
		Scan(&room.ID, &room.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRoomExists
		}
		return fmt.Errorf("create room: %w", err)
	}

	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM rooms
		WHERE id = $1
	`

	var room domain.Room
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsActive,
		&room.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by id: %w", err)
	}

	return &room, nil
}

func (r *RoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM rooms
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.IsActive, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return rooms, nil
}

func (r *RoomRepository) Update(ctx context.Context, room *domain.Room) error {
	query := `
		UPDATE rooms
		SET name = $2, is_active = $3
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, room.ID, room.Name, room.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRoomExists
		}
		return fmt.Errorf("update room: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

var _ RoomRepositoryInterface = (*RoomRepository)(nil)
