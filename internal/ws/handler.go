// Package ws liga assinaturas do hub a conexões WebSocket. Cada conexão tem
// um único goroutine escritor; o leitor só trata ping e encerramento.
package ws

import (
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/camera"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
)

const (
	writeWait    = 10 * time.Second
	statusPeriod = 5 * time.Second
)

var pongMessage = []byte(`{"type":"pong"}`)

// Upgrade rejeita requisições que não são um upgrade de WebSocket.
func Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// CameraStream atende /ws/cameras/:camera_id/stream: quadros JPEG binários
// intercalados com mensagens JSON de reconhecimento e status.
func CameraStream(h *hub.Hub, manager *camera.Manager, logger *slog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		cameraID, err := strconv.ParseInt(c.Params("camera_id"), 10, 64)
		if err != nil || cameraID <= 0 {
			_ = c.Close()
			return
		}

		sub := h.Subscribe(hub.CameraTopic(cameraID), hub.KindBoth)
		defer h.Unsubscribe(sub)

		// primeiro frame de status para o cliente saber o estado da câmera
		if err := writeJSON(c, manager.Status(cameraID)); err != nil {
			return
		}

		done, pings := readLoop(c)
		ticker := time.NewTicker(statusPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-pings:
				if err := writeRaw(c, pongMessage); err != nil {
					return
				}
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeHubMessage(c, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeJSON(c, manager.Status(cameraID)); err != nil {
					return
				}
			}
		}
	})
}

// RoomPresence atende /ws/rooms/:room_id/presence: snapshot inicial seguido
// dos deltas daquela sala.
func RoomPresence(h *hub.Hub, tracker *presence.Tracker, logger *slog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		roomID, err := strconv.ParseInt(c.Params("room_id"), 10, 64)
		if err != nil || roomID <= 0 {
			_ = c.Close()
			return
		}

		sub := h.Subscribe(hub.RoomTopic(roomID), hub.KindEvents)
		defer h.Unsubscribe(sub)

		snap := tracker.Snapshot(roomID)
		initial := fiber.Map{
			"type":        "initial_presence",
			"room_id":     snap.RoomID,
			"room_name":   snap.RoomName,
			"occupants":   snap.Occupants,
			"total_count": snap.TotalCount,
		}
		if err := writeJSON(c, initial); err != nil {
			return
		}

		done, pings := readLoop(c)
		for {
			select {
			case <-done:
				return
			case <-pings:
				if err := writeRaw(c, pongMessage); err != nil {
					return
				}
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeHubMessage(c, msg); err != nil {
					return
				}
			}
		}
	})
}

// AllPresence atende /ws/rooms/all/presence: visão agregada de todas as
// salas, com refresh periódico além dos deltas.
func AllPresence(h *hub.Hub, tracker *presence.Tracker, refreshPeriod time.Duration, logger *slog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sub := h.Subscribe(hub.TopicRoomsAll, hub.KindEvents)
		defer h.Unsubscribe(sub)

		if err := writeJSON(c, allPresencePayload("initial_all_presence", tracker)); err != nil {
			return
		}

		done, pings := readLoop(c)
		ticker := time.NewTicker(refreshPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-pings:
				if err := writeRaw(c, pongMessage); err != nil {
					return
				}
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeHubMessage(c, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeJSON(c, allPresencePayload("all_presence_refresh", tracker)); err != nil {
					return
				}
			}
		}
	})
}

func allPresencePayload(typ string, tracker *presence.Tracker) fiber.Map {
	snaps, total := tracker.SnapshotAll()
	return fiber.Map{
		"type":         typ,
		"rooms":        snaps,
		"total_people": total,
		"timestamp":    time.Now(),
	}
}

// readLoop consome a conexão num goroutine próprio. done fecha quando o
// cliente some; pings recebe um sinal por mensagem "ping" do cliente.
func readLoop(c *websocket.Conn) (<-chan struct{}, <-chan struct{}) {
	done := make(chan struct{})
	pings := make(chan struct{}, 1)

	go func() {
		defer close(done)
		for {
			msgType, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage && isPing(data) {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	return done, pings
}

func isPing(data []byte) bool {
	if string(data) == "ping" {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &msg) == nil && msg.Type == "ping"
}

func writeHubMessage(c *websocket.Conn, msg hub.Message) error {
	kind := websocket.TextMessage
	if msg.Binary {
		kind = websocket.BinaryMessage
	}
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(kind, msg.Data)
}

func writeJSON(c *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(c, data)
}

func writeRaw(c *websocket.Conn, data []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, data)
}
