package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

// AttendanceHandler atende o check-in manual (foto única via HTTP) e as
// consultas de presença diária.
type AttendanceHandler struct {
	recognizer *service.Recognizer
	attendance *service.AttendanceService
	students   repository.StudentRepositoryInterface
	logger     *slog.Logger
}

func NewAttendanceHandler(
	recognizer *service.Recognizer,
	attendance *service.AttendanceService,
	students repository.StudentRepositoryInterface,
	logger *slog.Logger,
) *AttendanceHandler {
	return &AttendanceHandler{
		recognizer: recognizer,
		attendance: attendance,
		students:   students,
		logger:     logger,
	}
}

// CheckInRequest carrega a imagem do check-in manual.
type CheckInRequest struct {
	// Image é um JPEG/PNG em base64, com ou sem prefixo data-URL.
	Image string `json:"image"`
}

// CheckInResponse é a resposta do check-in. Status é sempre um de:
// success, already_attended, no_match, no_face, error.
type CheckInResponse struct {
	Status       string          `json:"status"`
	Student      *domain.Student `json:"student,omitempty"`
	Confidence   float32         `json:"confidence,omitempty"`
	CheckInTime  *time.Time      `json:"check_in_time,omitempty"`
	AttendanceID int64           `json:"attendance_id,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// CheckIn POST /v1/attendance/check-in
func (h *AttendanceHandler) CheckIn(c *fiber.Ctx) error {
	var req CheckInRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}

	frame, err := decodeBase64Image(req.Image)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(CheckInResponse{Status: "error", Message: "invalid base64 image"})
	}

	matches, faceCount, err := h.recognizer.ScanFrame(c.Context(), frame)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) && appErr.StatusCode < 500 {
			return c.Status(appErr.StatusCode).
				JSON(CheckInResponse{Status: "error", Message: appErr.Message})
		}
		h.logger.Error("check-in recognition failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(CheckInResponse{Status: "error", Message: "recognition failed"})
	}

	if faceCount == 0 {
		return c.JSON(CheckInResponse{Status: "no_face"})
	}
	if len(matches) == 0 {
		return c.JSON(CheckInResponse{Status: "no_match"})
	}

	// a melhor face do quadro decide o check-in
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > best.Confidence {
			best = m
		}
	}

	status, att, err := h.attendance.CheckIn(c.Context(), best.StudentID, 0, best.Confidence, frame)
	if err != nil {
		return err
	}

	student, err := h.students.GetByID(c.Context(), best.StudentID)
	if err != nil {
		return err
	}

	resp := CheckInResponse{
		Student:    student,
		Confidence: best.Confidence,
	}

	switch status {
	case service.CheckInCreated:
		resp.Status = "success"
	case service.CheckInAlready:
		resp.Status = "already_attended"
	default:
		// abaixo do limiar de registro: para o cliente é um não-match
		resp.Status = "no_match"
		resp.Student = nil
		return c.JSON(resp)
	}

	if att != nil {
		t := att.CheckInTime
		resp.CheckInTime = &t
		resp.AttendanceID = att.ID
	}
	return c.JSON(resp)
}

// Today GET /v1/attendance/today
func (h *AttendanceHandler) Today(c *fiber.Ctx) error {
	records, err := h.attendance.Today(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"attendance": records, "total": len(records)})
}

// ByDate GET /v1/attendance?date=YYYY-MM-DD
func (h *AttendanceHandler) ByDate(c *fiber.Ctx) error {
	raw := c.Query("date")
	if raw == "" {
		return h.Today(c)
	}

	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}

	records, err := h.attendance.ListByDate(c.Context(), date)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"attendance": records, "total": len(records), "date": raw})
}

// StudentHistory GET /v1/attendance/student/:student_id?date_from&date_to
// O parâmetro é o identificador externo do aluno (matrícula), não o id
// interno.
func (h *AttendanceHandler) StudentHistory(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}

	var from, to time.Time
	if raw := c.Query("date_from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			return domain.ErrValidationFailed.WithError(err)
		}
	}
	if raw := c.Query("date_to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			return domain.ErrValidationFailed.WithError(err)
		}
	}

	records, err := h.attendance.HistoryRange(c.Context(), student.ID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"student": student, "attendance": records, "total": len(records)})
}

// Statistics GET /v1/attendance/statistics
func (h *AttendanceHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.attendance.Stats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// decodeBase64Image aceita base64 puro ou um data-URL
// ("data:image/jpeg;base64,...").
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty image")
	}
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
