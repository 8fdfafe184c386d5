package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type StudentImageRepository struct {
	pool PgxPool
}

func NewStudentImageRepository(pool PgxPool) *StudentImageRepository {
	return &StudentImageRepository{pool: pool}
}

func (r *StudentImageRepository) Create(ctx context.Context, image *domain.StudentImage) error {
	query := `
		INSERT INTO student_images (student_id, image_path, embedding, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`

	var embedding *pgvector.Vector
	if len(image.Embedding) > 0 {
		vec := pgvector.NewVector(image.Embedding)
		embedding = &vec
	}

	err := r.pool.QueryRow(ctx, query,
		image.StudentID,
		image.ImagePath,
		embedding,
	).Scan(&image.ID, &image.CreatedAt)

	if err != nil {
		return fmt.Errorf("create student image: %w", err)
	}

	return nil
}

func (r *StudentImageRepository) CountByStudent(ctx context.Context, studentID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM student_images WHERE student_id = $1`, studentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count student images: %w", err)
	}
	return count, nil
}

func (r *StudentImageRepository) ListByStudent(ctx context.Context, studentID int64) ([]domain.StudentImage, error) {
	query := `
		SELECT id, student_id, image_path, embedding, created_at
		FROM student_images
		WHERE student_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("list student images: %w", err)
	}
	defer rows.Close()

	return scanImages(rows)
}

// ListEmbeddings retorna todas as imagens com embedding não-nulo, na ordem
// de inserção. Usado para reconstruir o índice de similaridade no boot.
func (r *StudentImageRepository) ListEmbeddings(ctx context.Context) ([]domain.StudentImage, error) {
	query := `
		SELECT id, student_id, image_path, embedding, created_at
		FROM student_images
		WHERE embedding IS NOT NULL
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	return scanImages(rows)
}

func (r *StudentImageRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM student_images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student image: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *StudentImageRepository) DeleteByStudent(ctx context.Context, studentID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM student_images WHERE student_id = $1`, studentID)
	if err != nil {
		return fmt.Errorf("delete student images: %w", err)
	}
	return nil
}

func scanImages(rows pgx.Rows) ([]domain.StudentImage, error) {
	var images []domain.StudentImage
	for rows.Next() {
		var image domain.StudentImage
		var embedding *pgvector.Vector
		if err := rows.Scan(
			&image.ID,
			&image.StudentID,
			&image.ImagePath,
			&embedding,
			&image.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan student image: %w", err)
		}
		if embedding != nil {
			image.Embedding = embedding.Slice()
		}
		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student images: %w", err)
	}

	return images, nil
}

var _ StudentImageRepositoryInterface = (*StudentImageRepository)(nil)
