package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type CameraRepository struct {
	pool PgxPool
}

func NewCameraRepository(pool PgxPool) *CameraRepository {
	return &CameraRepository{pool: pool}
}

func (r *CameraRepository) Create(ctx context.Context, camera *domain.Camera) error {
	query := `
		INSERT INTO cameras (room_id, name, rtsp_url, is_active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		camera.RoomID,
		camera.Name,
		camera.RTSPURL,
		camera.IsActive,
	).Scan(&camera.ID, &camera.CreatedAt)

	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}

	return nil
}

func (r *CameraRepository) GetByID(ctx context.Context, id int64) (*domain.Camera, error) {
	query := `
		SELECT id, room_id, name, rtsp_url, is_active, created_at
		FROM cameras
		WHERE id = $1
	`

	var camera domain.Camera
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&camera.ID,
		&camera.RoomID,
		&camera.Name,
		&camera.RTSPURL,
		&camera.IsActive,
		&camera.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get camera by id: %w", err)
	}

	return &camera, nil
}

func (r *CameraRepository) ListByRoom(ctx context.Context, roomID int64) ([]domain.Camera, error) {
	query := `
		SELECT id, room_id, name, rtsp_url, is_active, created_at
		FROM cameras
		WHERE room_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list cameras by room: %w", err)
	}
	defer rows.Close()

	return scanCameras(rows)
}

func (r *CameraRepository) ListActive(ctx context.Context) ([]domain.Camera, error) {
	query := `
		SELECT id, room_id, name, rtsp_url, is_active, created_at
		FROM cameras
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active cameras: %w", err)
	}
	defer rows.Close()

	return scanCameras(rows)
}

func (r *CameraRepository) Update(ctx context.Context, camera *domain.Camera) error {
	query := `
		UPDATE cameras
		SET name = $2, rtsp_url = $3, is_active = $4
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		camera.ID,
		camera.Name,
		camera.RTSPURL,
		camera.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update camera: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCameraNotFound
	}
	return nil
}

func (r *CameraRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCameraNotFound
	}
	return nil
}

func scanCameras(rows pgx.Rows) ([]domain.Camera, error) {
	var cameras []domain.Camera
	for rows.Next() {
		var camera domain.Camera
		if err := rows.Scan(
			&camera.ID,
			&camera.RoomID,
			&camera.Name,
			&camera.RTSPURL,
			&camera.IsActive,
			&camera.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cameras: %w", err)
	}

	return cameras, nil
}

var _ CameraRepositoryInterface = (*CameraRepository)(nil)
