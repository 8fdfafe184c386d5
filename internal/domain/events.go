package domain

import "time"

// BoundingBox delimita uma face dentro de um quadro, em pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Match é um rosto reconhecido em um quadro.
type Match struct {
	StudentID  int64       `json:"student_id"`
	Confidence float32     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// RecognizedStudent is the event payload for one recognition that passed the
// cooldown on a camera.
type RecognizedStudent struct {
	StudentID   int64      `json:"student_id"`
	Number      string     `json:"student_number"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	GroupName   *string    `json:"group_name,omitempty"`
	Confidence  float32    `json:"confidence"`
	Status      string     `json:"status"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
}

// RecognitionEvent é publicado no tópico camera:<id> quando ao menos um
// reconhecimento passou pelo cooldown.
type RecognitionEvent struct {
	Type       string              `json:"type"`
	CameraID   int64               `json:"camera_id"`
	Recognized []RecognizedStudent `json:"recognized"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Occupant é uma entrada de presença vista por assinantes de sala.
type Occupant struct {
	StudentID  int64     `json:"student_id"`
	CameraID   int64     `json:"camera_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Confidence float32   `json:"confidence"`
}

// PresenceDelta é publicado no tópico room:<id> (e reenviado em rooms:all)
// sempre que a ocupação de uma sala muda.
type PresenceDelta struct {
	Type       string     `json:"type"`
	RoomID     int64      `json:"room_id"`
	RoomName   string     `json:"room_name,omitempty"`
	Occupants  []Occupant `json:"occupants"`
	TotalCount int        `json:"total_count"`
	Timestamp  time.Time  `json:"timestamp"`
}

// WorkerStatus descreve o estado corrente de um worker de câmera.
type WorkerStatus struct {
	Type       string       `json:"type"`
	CameraID   int64        `json:"camera_id"`
	State      CameraStatus `json:"state"`
	Connected  bool         `json:"connected"`
	Running    bool         `json:"running"`
	FPS        float64      `json:"fps"`
	FrameCount uint64       `json:"frame_count"`
}
