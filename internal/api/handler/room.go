package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/camera"
	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
)

// RoomHandler atende o CRUD de salas e câmeras, o liga/desliga de workers e
// as consultas de presença em tempo real.
type RoomHandler struct {
	rooms    repository.RoomRepositoryInterface
	cameras  repository.CameraRepositoryInterface
	students repository.StudentRepositoryInterface
	manager  *camera.Manager
	tracker  *presence.Tracker
	logger   *slog.Logger
}

func NewRoomHandler(
	rooms repository.RoomRepositoryInterface,
	cameras repository.CameraRepositoryInterface,
	students repository.StudentRepositoryInterface,
	manager *camera.Manager,
	tracker *presence.Tracker,
	logger *slog.Logger,
) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		cameras:  cameras,
		students: students,
		manager:  manager,
		tracker:  tracker,
		logger:   logger,
	}
}

// CreateRoomRequest são os campos de cadastro de sala.
type CreateRoomRequest struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// CreateCameraRequest são os campos de cadastro de câmera.
type CreateCameraRequest struct {
	Name     string `json:"name"`
	RTSPURL  string `json:"rtsp_url"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// CreateRoom POST /v1/rooms
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if strings.TrimSpace(req.Name) == "" {
		return domain.ErrValidationFailed.WithError(errors.New("name is required"))
	}

	room := &domain.Room{Name: strings.TrimSpace(req.Name), IsActive: true}
	if req.IsActive != nil {
		room.IsActive = *req.IsActive
	}
	if err := h.rooms.Create(c.Context(), room); err != nil {
		return err
	}

	h.tracker.RegisterRoom(room.ID, room.Name)
	return c.Status(fiber.StatusCreated).JSON(room)
}

// ListRooms GET /v1/rooms
func (h *RoomHandler) ListRooms(c *fiber.Ctx) error {
	rooms, err := h.rooms.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rooms": rooms, "total": len(rooms)})
}

// GetRoom GET /v1/rooms/:room_id - sala mais câmeras com status de runtime
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	id, err := parseID(c, "room_id")
	if err != nil {
		return err
	}

	room, err := h.rooms.GetByID(c.Context(), id)
	if err != nil {
		return err
	}

	cameras, err := h.cameras.ListByRoom(c.Context(), id)
	if err != nil {
		return err
	}
	for i := range cameras {
		cameras[i].Status = h.manager.Status(cameras[i].ID).State
	}

	return c.JSON(fiber.Map{"room": room, "cameras": cameras})
}

// UpdateRoom PUT /v1/rooms/:room_id
func (h *RoomHandler) UpdateRoom(c *fiber.Ctx) error {
	id, err := parseID(c, "room_id")
	if err != nil {
		return err
	}

	room, err := h.rooms.GetByID(c.Context(), id)
	if err != nil {
		return err
	}

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		room.Name = name
	}
	if req.IsActive != nil {
		room.IsActive = *req.IsActive
	}

	if err := h.rooms.Update(c.Context(), room); err != nil {
		return err
	}

	// o tracker carimba o nome nos deltas de presença
	h.tracker.RegisterRoom(room.ID, room.Name)
	return c.JSON(room)
}

// DeleteRoom DELETE /v1/rooms/:room_id - derruba os workers antes de apagar
func (h *RoomHandler) DeleteRoom(c *fiber.Ctx) error {
	id, err := parseID(c, "room_id")
	if err != nil {
		return err
	}

	if err := h.manager.StopRoom(c.Context(), id); err != nil {
		h.logger.Warn("stop room workers before delete failed", "room_id", id, "error", err)
	}

	if err := h.rooms.Delete(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateCamera POST /v1/rooms/:room_id/cameras
func (h *RoomHandler) CreateCamera(c *fiber.Ctx) error {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return err
	}
	if _, err := h.rooms.GetByID(c.Context(), roomID); err != nil {
		return err
	}

	var req CreateCameraRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.RTSPURL) == "" {
		return domain.ErrValidationFailed.WithError(errors.New("name and rtsp_url are required"))
	}

	cam := &domain.Camera{
		RoomID:   roomID,
		Name:     strings.TrimSpace(req.Name),
		RTSPURL:  strings.TrimSpace(req.RTSPURL),
		IsActive: true,
	}
	if req.IsActive != nil {
		cam.IsActive = *req.IsActive
	}
	if err := h.cameras.Create(c.Context(), cam); err != nil {
		return err
	}

	cam.Status = domain.CameraOffline
	return c.Status(fiber.StatusCreated).JSON(cam)
}

// ListCameras GET /v1/rooms/:room_id/cameras
func (h *RoomHandler) ListCameras(c *fiber.Ctx) error {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return err
	}
	if _, err := h.rooms.GetByID(c.Context(), roomID); err != nil {
		return err
	}

	cameras, err := h.cameras.ListByRoom(c.Context(), roomID)
	if err != nil {
		return err
	}
	for i := range cameras {
		cameras[i].Status = h.manager.Status(cameras[i].ID).State
	}
	return c.JSON(fiber.Map{"cameras": cameras, "total": len(cameras)})
}

// UpdateCamera PUT /v1/rooms/:room_id/cameras/:camera_id
func (h *RoomHandler) UpdateCamera(c *fiber.Ctx) error {
	cam, err := h.roomCamera(c)
	if err != nil {
		return err
	}

	var req CreateCameraRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		cam.Name = name
	}
	if url := strings.TrimSpace(req.RTSPURL); url != "" {
		cam.RTSPURL = url
	}
	if req.IsActive != nil {
		cam.IsActive = *req.IsActive
	}

	if err := h.cameras.Update(c.Context(), cam); err != nil {
		return err
	}

	// um worker em execução mantém a URL antiga até ser reiniciado
	cam.Status = h.manager.Status(cam.ID).State
	return c.JSON(cam)
}

// DeleteCamera DELETE /v1/rooms/:room_id/cameras/:camera_id
func (h *RoomHandler) DeleteCamera(c *fiber.Ctx) error {
	cam, err := h.roomCamera(c)
	if err != nil {
		return err
	}

	if err := h.manager.Stop(cam.ID); err != nil {
		h.logger.Warn("stop camera before delete failed", "camera_id", cam.ID, "error", err)
	}
	if err := h.cameras.Delete(c.Context(), cam.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StartCamera POST /v1/rooms/:room_id/cameras/:camera_id/start
func (h *RoomHandler) StartCamera(c *fiber.Ctx) error {
	cam, err := h.roomCamera(c)
	if err != nil {
		return err
	}

	if err := h.manager.Start(c.Context(), cam.ID); err != nil {
		return err
	}
	return c.JSON(h.manager.Status(cam.ID))
}

// StopCamera POST /v1/rooms/:room_id/cameras/:camera_id/stop
func (h *RoomHandler) StopCamera(c *fiber.Ctx) error {
	cam, err := h.roomCamera(c)
	if err != nil {
		return err
	}

	if err := h.manager.Stop(cam.ID); err != nil {
		return err
	}
	return c.JSON(h.manager.Status(cam.ID))
}

// StartAll POST /v1/rooms/:room_id/start-all
func (h *RoomHandler) StartAll(c *fiber.Ctx) error {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return err
	}

	if err := h.manager.StartRoom(c.Context(), roomID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"statuses": h.manager.StatusAll()})
}

// StopAll POST /v1/rooms/:room_id/stop-all
func (h *RoomHandler) StopAll(c *fiber.Ctx) error {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return err
	}

	if err := h.manager.StopRoom(c.Context(), roomID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RoomPresence GET /v1/rooms/:room_id/presence
func (h *RoomHandler) RoomPresence(c *fiber.Ctx) error {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return err
	}
	if _, err := h.rooms.GetByID(c.Context(), roomID); err != nil {
		return err
	}

	return c.JSON(h.tracker.Snapshot(roomID))
}

// AllPresence GET /v1/rooms/presence/all
func (h *RoomHandler) AllPresence(c *fiber.Ctx) error {
	snaps, total := h.tracker.SnapshotAll()
	return c.JSON(fiber.Map{"rooms": snaps, "total_people": total})
}

// StudentPresence GET /v1/rooms/presence/student/:student_id
// O parâmetro é a matrícula (id externo) do aluno.
func (h *RoomHandler) StudentPresence(c *fiber.Ctx) error {
	student, err := h.students.GetByNumber(c.Context(), c.Params("student_id"))
	if err != nil {
		return err
	}

	loc, found := h.tracker.Locate(student.ID)
	if !found {
		return c.JSON(fiber.Map{"student": student, "present": false})
	}
	return c.JSON(fiber.Map{"student": student, "present": true, "location": loc})
}

// PresenceStats GET /v1/rooms/presence/stats
func (h *RoomHandler) PresenceStats(c *fiber.Ctx) error {
	snaps, total := h.tracker.SnapshotAll()

	perRoom := make([]fiber.Map, 0, len(snaps))
	occupied := 0
	for _, snap := range snaps {
		if snap.TotalCount > 0 {
			occupied++
		}
		perRoom = append(perRoom, fiber.Map{
			"room_id":   snap.RoomID,
			"room_name": snap.RoomName,
			"count":     snap.TotalCount,
		})
	}

	return c.JSON(fiber.Map{
		"total_people":   total,
		"total_rooms":    len(snaps),
		"occupied_rooms": occupied,
		"rooms":          perRoom,
	})
}

// roomCamera resolve a câmera da rota validando que pertence à sala.
func (h *RoomHandler) roomCamera(c *fiber.Ctx) (*domain.Camera, error) {
	roomID, err := parseID(c, "room_id")
	if err != nil {
		return nil, err
	}
	cameraID, err := parseID(c, "camera_id")
	if err != nil {
		return nil, err
	}

	cam, err := h.cameras.GetByID(c.Context(), cameraID)
	if err != nil {
		return nil, err
	}
	if cam.RoomID != roomID {
		return nil, domain.ErrCameraNotFound
	}
	return cam, nil
}
