package domain

import "time"

// Attendance é um registro diário de presença. (student_id, attendance_date)
// is unique; rows are never mutated after creation.
type Attendance struct {
	ID           int64     `json:"id"`
	StudentID    int64     `json:"-"`
	Date         time.Time `json:"attendance_date"`
	CheckInTime  time.Time `json:"check_in_time"`
	Confidence   float32   `json:"confidence_score"`
	SnapshotPath *string   `json:"snapshot_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AttendanceWithStudent é uma linha de presença acompanhada dos dados do
// aluno, para listagens.
type AttendanceWithStudent struct {
	Attendance
	StudentNumber string  `json:"student_id"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	GroupName     *string `json:"group_name,omitempty"`
}

// AttendanceStats agrega os contadores usados pelo painel.
type AttendanceStats struct {
	TotalStudents   int64   `json:"total_students"`
	TodayAttendance int64   `json:"today_attendance"`
	WeekAttendance  int64   `json:"week_attendance"`
	MonthAttendance int64   `json:"month_attendance"`
	AttendanceRate  float64 `json:"attendance_rate"`
}
