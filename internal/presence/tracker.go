// Package presence mantém, em memória, quem está em qual sala agora.
// Entradas expiram por TTL; cada mudança de ocupação é publicada no hub
// para os assinantes de sala.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
)

// Outcome classifica o efeito de um Touch.
type Outcome int

const (
	// Added: o aluno não estava presente em sala alguma
	Added Outcome = iota
	// Refreshed: mesma sala, apenas o timestamp avançou
	Refreshed
	// Moved: o aluno estava em outra sala e foi transferido
	Moved
)

type entry struct {
	studentID  int64
	roomID     int64
	cameraID   int64
	confidence float32
	lastSeen   time.Time
}

type roomState struct {
	name      string
	occupants map[int64]*entry
}

// RoomSnapshot é a visão de uma sala em um instante.
type RoomSnapshot struct {
	RoomID     int64             `json:"room_id"`
	RoomName   string            `json:"room_name"`
	Occupants  []domain.Occupant `json:"occupants"`
	TotalCount int               `json:"total_count"`
}

// Location é onde um aluno foi visto pela última vez.
type Location struct {
	RoomID     int64     `json:"room_id"`
	RoomName   string    `json:"room_name"`
	CameraID   int64     `json:"camera_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type Tracker struct {
	logger  *slog.Logger
	hub     *hub.Hub
	metrics *metrics.Metrics

	ttl    time.Duration
	period time.Duration

	mu        sync.Mutex
	rooms     map[int64]*roomState
	byStudent map[int64]*entry

	stopCh chan struct{}
	now    func() time.Time
}

func NewTracker(logger *slog.Logger, h *hub.Hub, m *metrics.Metrics, ttl, evictionPeriod time.Duration) *Tracker {
	return &Tracker{
		logger:    logger,
		hub:       h,
		metrics:   m,
		ttl:       ttl,
		period:    evictionPeriod,
		rooms:     make(map[int64]*roomState),
		byStudent: make(map[int64]*entry),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// RegisterRoom informa o nome usado nos eventos daquela sala. Salas não
// registradas ainda funcionam, com nome vazio.
func (t *Tracker) RegisterRoom(roomID int64, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roomLocked(roomID).name = name
}

func (t *Tracker) roomLocked(roomID int64) *roomState {
	rs, ok := t.rooms[roomID]
	if !ok {
		rs = &roomState{occupants: make(map[int64]*entry)}
		t.rooms[roomID] = rs
	}
	return rs
}

// Touch registra um avistamento. Um aluno está presente em no máximo uma
// sala: avistamento em sala nova o transfere, publicando delta para ambas.
func (t *Tracker) Touch(roomID, studentID, cameraID int64, confidence float32) Outcome {
	t.mu.Lock()

	now := t.now()
	outcome := Added
	var vacatedRoom int64 = -1

	if cur, ok := t.byStudent[studentID]; ok {
		if cur.roomID == roomID {
			cur.cameraID = cameraID
			cur.confidence = confidence
			cur.lastSeen = now
			t.mu.Unlock()
			return Refreshed
		}
		delete(t.rooms[cur.roomID].occupants, studentID)
		vacatedRoom = cur.roomID
		outcome = Moved
	}

	e := &entry{
		studentID:  studentID,
		roomID:     roomID,
		cameraID:   cameraID,
		confidence: confidence,
		lastSeen:   now,
	}
	t.byStudent[studentID] = e
	t.roomLocked(roomID).occupants[studentID] = e

	deltas := make([]domain.PresenceDelta, 0, 2)
	if vacatedRoom >= 0 {
		deltas = append(deltas, t.deltaLocked(vacatedRoom, now))
	}
	deltas = append(deltas, t.deltaLocked(roomID, now))
	t.updateGaugesLocked()
	t.mu.Unlock()

	t.publish(deltas)
	return outcome
}

// Snapshot retorna a ocupação corrente de uma sala.
func (t *Tracker) Snapshot(roomID int64) RoomSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(roomID, t.now())
}

// SnapshotAll retorna todas as salas registradas, ordenadas por id, e o
// total de alunos presentes.
func (t *Tracker) SnapshotAll() ([]RoomSnapshot, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	ids := make([]int64, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snaps := make([]RoomSnapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, t.snapshotLocked(id, now))
	}

	cutoff := now.Add(-t.ttl)
	total := 0
	for _, e := range t.byStudent {
		if !e.lastSeen.Before(cutoff) {
			total++
		}
	}
	return snaps, total
}

// Locate retorna onde um aluno foi visto pela última vez, se presente.
func (t *Tracker) Locate(studentID int64) (Location, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byStudent[studentID]
	if !ok || e.lastSeen.Before(t.now().Add(-t.ttl)) {
		return Location{}, false
	}
	return Location{
		RoomID:     e.roomID,
		RoomName:   t.rooms[e.roomID].name,
		CameraID:   e.cameraID,
		LastSeenAt: e.lastSeen,
	}, true
}

// Remove tira um aluno da presença imediatamente (ex.: cadastro apagado),
// sem esperar o TTL. Publica o delta da sala vacated.
func (t *Tracker) Remove(studentID int64) bool {
	t.mu.Lock()

	e, ok := t.byStudent[studentID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.rooms[e.roomID].occupants, studentID)
	delete(t.byStudent, studentID)

	delta := t.deltaLocked(e.roomID, t.now())
	t.updateGaugesLocked()
	t.mu.Unlock()

	t.publish([]domain.PresenceDelta{delta})
	return true
}

// Run executa a varredura de expiração até o contexto encerrar.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.evict()
		}
	}
}

// Stop encerra a varredura fora de um contexto.
func (t *Tracker) Stop() {
	close(t.stopCh)
}

func (t *Tracker) evict() {
	t.mu.Lock()

	now := t.now()
	cutoff := now.Add(-t.ttl)
	touched := make(map[int64]struct{})

	for studentID, e := range t.byStudent {
		if e.lastSeen.Before(cutoff) {
			delete(t.rooms[e.roomID].occupants, studentID)
			delete(t.byStudent, studentID)
			touched[e.roomID] = struct{}{}
		}
	}

	deltas := make([]domain.PresenceDelta, 0, len(touched))
	for roomID := range touched {
		deltas = append(deltas, t.deltaLocked(roomID, now))
	}
	if len(touched) > 0 {
		t.updateGaugesLocked()
	}
	t.mu.Unlock()

	if len(deltas) > 0 {
		t.logger.Debug("presence eviction", "rooms_changed", len(deltas))
	}
	t.publish(deltas)
}

// snapshotLocked aplica o corte de TTL na leitura: uma entrada vencida some
// das respostas imediatamente, mesmo antes da varredura removê-la.
func (t *Tracker) snapshotLocked(roomID int64, now time.Time) RoomSnapshot {
	rs := t.roomLocked(roomID)
	cutoff := now.Add(-t.ttl)

	occupants := make([]domain.Occupant, 0, len(rs.occupants))
	for _, e := range rs.occupants {
		if e.lastSeen.Before(cutoff) {
			continue
		}
		occupants = append(occupants, domain.Occupant{
			StudentID:  e.studentID,
			CameraID:   e.cameraID,
			LastSeenAt: e.lastSeen,
			Confidence: e.confidence,
		})
	}
	sort.Slice(occupants, func(i, j int) bool {
		return occupants[i].StudentID < occupants[j].StudentID
	})

	return RoomSnapshot{
		RoomID:     roomID,
		RoomName:   rs.name,
		Occupants:  occupants,
		TotalCount: len(occupants),
	}
}

func (t *Tracker) deltaLocked(roomID int64, now time.Time) domain.PresenceDelta {
	snap := t.snapshotLocked(roomID, now)
	return domain.PresenceDelta{
		Type:       "presence_update",
		RoomID:     snap.RoomID,
		RoomName:   snap.RoomName,
		Occupants:  snap.Occupants,
		TotalCount: snap.TotalCount,
		Timestamp:  now,
	}
}

func (t *Tracker) updateGaugesLocked() {
	if t.metrics == nil {
		return
	}
	for _, rs := range t.rooms {
		if rs.name == "" {
			continue
		}
		t.metrics.PresenceOccupants.WithLabelValues(rs.name).Set(float64(len(rs.occupants)))
	}
}

func (t *Tracker) publish(deltas []domain.PresenceDelta) {
	if t.hub == nil {
		return
	}
	for _, d := range deltas {
		t.hub.PublishJSON(hub.RoomTopic(d.RoomID), d)
		t.hub.PublishJSON(hub.TopicRoomsAll, d)
	}
}
