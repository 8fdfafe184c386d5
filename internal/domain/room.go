package domain

import "time"

// Room agrupa câmeras que observam o mesmo espaço físico.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CameraStatus is the runtime state of a camera worker. It is not persisted.
type CameraStatus string

const (
	CameraOffline    CameraStatus = "offline"
	CameraConnecting CameraStatus = "connecting"
	CameraStreaming  CameraStatus = "streaming"
	CameraFailed     CameraStatus = "failed"
	CameraStopped    CameraStatus = "stopped"
)

type Camera struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	Name      string    `json:"name"`
	RTSPURL   string    `json:"rtsp_url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`

	// Status é preenchido em runtime pelo gerenciador de câmeras.
	Status CameraStatus `json:"status,omitempty"`
}
