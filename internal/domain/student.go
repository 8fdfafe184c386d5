package domain

import "time"

// Student representa uma pessoa cadastrada no sistema
type Student struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	GroupName *string   `json:"group_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentImage é uma amostra de referência cadastrada para um aluno.
// Every row with a non-nil embedding has a corresponding slot in the
// similarity index, and every slot points back to exactly one row.
type StudentImage struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"-"`
	ImagePath string    `json:"image_path"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
