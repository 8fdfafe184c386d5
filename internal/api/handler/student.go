package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

const (
	maxImageSize = 10 * 1024 * 1024 // 10MB
)

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// StudentHandler handles student enrollment requests
type StudentHandler struct {
	enrollment *service.EnrollmentService
	attendance *service.AttendanceService
	students   repository.StudentRepositoryInterface
	tracker    *presence.Tracker
	logger     *slog.Logger
}

func NewStudentHandler(
	enrollment *service.EnrollmentService,
	attendance *service.AttendanceService,
	students repository.StudentRepositoryInterface,
	tracker *presence.Tracker,
	logger *slog.Logger,
) *StudentHandler {
	return &StudentHandler{
		enrollment: enrollment,
		attendance: attendance,
		students:   students,
		tracker:    tracker,
		logger:     logger,
	}
}

// StudentResponse is the student payload plus image processing results.
type StudentResponse struct {
	Student *domain.Student       `json:"student"`
	Images  []service.ImageResult `json:"images,omitempty"`
}

// Create POST /v1/students - register a student with reference images
func (h *StudentHandler) Create(c *fiber.Ctx) error {
	input := service.CreateStudentInput{
		StudentID: strings.TrimSpace(c.FormValue("student_id")),
		FirstName: strings.TrimSpace(c.FormValue("first_name")),
		LastName:  strings.TrimSpace(c.FormValue("last_name")),
	}
	if group := strings.TrimSpace(c.FormValue("group_name")); group != "" {
		input.GroupName = &group
	}

	images, err := extractImages(c)
	if err != nil {
		return err
	}

	student, results, err := h.enrollment.RegisterStudent(c.Context(), input, images)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(StudentResponse{
		Student: student,
		Images:  results,
	})
}

// List GET /v1/students
func (h *StudentHandler) List(c *fiber.Ctx) error {
	students, err := h.students.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"students": students, "total": len(students)})
}

// Get GET /v1/students/:student_id - lookup pela matrícula (id externo)
func (h *StudentHandler) Get(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}
	return c.JSON(student)
}

// Delete DELETE /v1/students/:student_id - remove student, images and index vectors
func (h *StudentHandler) Delete(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}

	if err := h.enrollment.DeleteStudent(c.Context(), student.ID); err != nil {
		return err
	}
	// não faz sentido seguir "presente" sem cadastro
	if h.tracker != nil {
		h.tracker.Remove(student.ID)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddImages POST /v1/students/:student_id/images - add reference images
func (h *StudentHandler) AddImages(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}

	images, err := extractImages(c)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return domain.ErrValidationFailed.WithError(errors.New("at least one image is required"))
	}

	results, err := h.enrollment.AddImages(c.Context(), student.ID, images)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"images": results})
}

// Attendance GET /v1/students/:student_id/attendance - attendance history
func (h *StudentHandler) Attendance(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 30)
	records, err := h.attendance.History(c.Context(), student.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"attendance": records, "total": len(records)})
}

func parseID(c *fiber.Ctx, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidationFailed.WithError(errors.New("invalid id"))
	}
	return id, nil
}

// extractImages lê todos os arquivos "images" do multipart. Zero imagens é
// válido no cadastro; quem exige ao menos uma valida no handler.
func extractImages(c *fiber.Ctx) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, domain.ErrValidationFailed.WithError(err)
	}

	files := form.File["images"]
	images := make([][]byte, 0, len(files))
	for _, file := range files {
		data, err := readImageFile(file)
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

func readImageFile(file *multipart.FileHeader) ([]byte, error) {
	if file.Size == 0 || file.Size > maxImageSize {
		return nil, domain.ErrInvalidImage.WithError(nil)
	}

	contentType := file.Header.Get("Content-Type")
	if !validImageTypes[contentType] {
		return nil, domain.ErrInvalidImage.WithError(nil)
	}

	f, err := file.Open()
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	return data, nil
}
