package presence

import (
	"log/slog"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
)

// testClock é um relógio manual injetado em Tracker.now.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(h *hub.Hub) (*Tracker, *testClock) {
	tr := NewTracker(slog.Default(), h, nil, 30*time.Second, 10*time.Second)
	clock := &testClock{t: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr.now = clock.Now
	return tr, clock
}

func TestTracker_TouchOutcomes(t *testing.T) {
	tr, clock := newTestTracker(nil)
	tr.RegisterRoom(1, "Sala 101")
	tr.RegisterRoom(2, "Sala 102")

	assert.Equal(t, Added, tr.Touch(1, 10, 100, 0.9))

	clock.Advance(5 * time.Second)
	assert.Equal(t, Refreshed, tr.Touch(1, 10, 101, 0.8))

	clock.Advance(5 * time.Second)
	assert.Equal(t, Moved, tr.Touch(2, 10, 200, 0.7))

	// um aluno está em no máximo uma sala
	assert.Equal(t, 0, tr.Snapshot(1).TotalCount)
	snap := tr.Snapshot(2)
	require.Equal(t, 1, snap.TotalCount)
	assert.Equal(t, int64(10), snap.Occupants[0].StudentID)
	assert.Equal(t, int64(200), snap.Occupants[0].CameraID)
}

func TestTracker_RefreshAdvancesLastSeen(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Touch(1, 10, 100, 0.9)
	first, ok := tr.Locate(10)
	require.True(t, ok)

	clock.Advance(7 * time.Second)
	tr.Touch(1, 10, 100, 0.9)

	loc, ok := tr.Locate(10)
	require.True(t, ok)
	assert.True(t, loc.LastSeenAt.After(first.LastSeenAt))
}

func TestTracker_EvictionByTTL(t *testing.T) {
	tr, clock := newTestTracker(nil)
	tr.RegisterRoom(1, "Sala 101")

	tr.Touch(1, 10, 100, 0.9)
	clock.Advance(20 * time.Second)
	tr.Touch(1, 11, 100, 0.85)

	// 31s após o primeiro avistamento: só o aluno 10 expira
	clock.Advance(11 * time.Second)
	tr.evict()

	snap := tr.Snapshot(1)
	require.Equal(t, 1, snap.TotalCount)
	assert.Equal(t, int64(11), snap.Occupants[0].StudentID)

	_, present := tr.Locate(10)
	assert.False(t, present)
}

func TestTracker_EvictionPublishesDelta(t *testing.T) {
	h := hub.New(slog.Default(), nil, 8)
	tr, clock := newTestTracker(h)
	tr.RegisterRoom(1, "Sala 101")

	sub := h.Subscribe(hub.RoomTopic(1), hub.KindEvents)
	defer h.Unsubscribe(sub)

	tr.Touch(1, 10, 100, 0.9)

	// delta do Touch
	var delta domain.PresenceDelta
	require.NoError(t, json.Unmarshal((<-sub.C).Data, &delta))
	assert.Equal(t, "presence_update", delta.Type)
	assert.Equal(t, 1, delta.TotalCount)
	assert.Equal(t, "Sala 101", delta.RoomName)

	clock.Advance(31 * time.Second)
	tr.evict()

	// delta da expiração com a sala vazia
	require.NoError(t, json.Unmarshal((<-sub.C).Data, &delta))
	assert.Equal(t, 0, delta.TotalCount)
	assert.Empty(t, delta.Occupants)
}

func TestTracker_MovePublishesBothRooms(t *testing.T) {
	h := hub.New(slog.Default(), nil, 8)
	tr, _ := newTestTracker(h)
	tr.RegisterRoom(1, "Sala 101")
	tr.RegisterRoom(2, "Sala 102")

	sub1 := h.Subscribe(hub.RoomTopic(1), hub.KindEvents)
	sub2 := h.Subscribe(hub.RoomTopic(2), hub.KindEvents)
	all := h.Subscribe(hub.TopicRoomsAll, hub.KindEvents)
	defer h.Unsubscribe(sub1)
	defer h.Unsubscribe(sub2)
	defer h.Unsubscribe(all)

	tr.Touch(1, 10, 100, 0.9)
	<-sub1.C
	<-all.C

	tr.Touch(2, 10, 200, 0.9)

	// a sala desocupada recebe delta com zero ocupantes
	var vacated domain.PresenceDelta
	require.NoError(t, json.Unmarshal((<-sub1.C).Data, &vacated))
	assert.Equal(t, int64(1), vacated.RoomID)
	assert.Equal(t, 0, vacated.TotalCount)

	// a sala nova recebe delta com o aluno
	var occupied domain.PresenceDelta
	require.NoError(t, json.Unmarshal((<-sub2.C).Data, &occupied))
	assert.Equal(t, int64(2), occupied.RoomID)
	assert.Equal(t, 1, occupied.TotalCount)

	// rooms:all recebe os dois deltas
	assert.Len(t, drainSub(all), 2)
}

func TestTracker_SnapshotAll(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.RegisterRoom(2, "Sala B")
	tr.RegisterRoom(1, "Sala A")

	tr.Touch(1, 10, 100, 0.9)
	tr.Touch(1, 11, 100, 0.9)
	tr.Touch(2, 12, 200, 0.9)

	snaps, total := tr.SnapshotAll()
	assert.Equal(t, 3, total)
	require.Len(t, snaps, 2)

	// ordenado por room id
	assert.Equal(t, int64(1), snaps[0].RoomID)
	assert.Equal(t, "Sala A", snaps[0].RoomName)
	assert.Equal(t, 2, snaps[0].TotalCount)
	assert.Equal(t, int64(2), snaps[1].RoomID)
	assert.Equal(t, 1, snaps[1].TotalCount)

	// ocupantes ordenados por student id
	assert.Equal(t, int64(10), snaps[0].Occupants[0].StudentID)
	assert.Equal(t, int64(11), snaps[0].Occupants[1].StudentID)
}

func TestTracker_LocateAbsent(t *testing.T) {
	tr, _ := newTestTracker(nil)

	_, ok := tr.Locate(99)
	assert.False(t, ok)

	tr.Touch(3, 99, 300, 0.8)
	loc, ok := tr.Locate(99)
	require.True(t, ok)
	assert.Equal(t, int64(3), loc.RoomID)
	assert.Equal(t, int64(300), loc.CameraID)
}

func TestTracker_UnregisteredRoomWorks(t *testing.T) {
	tr, _ := newTestTracker(nil)

	assert.Equal(t, Added, tr.Touch(42, 10, 100, 0.9))
	snap := tr.Snapshot(42)
	assert.Equal(t, 1, snap.TotalCount)
	assert.Empty(t, snap.RoomName)
}

func TestTracker_ReadsHideExpiredBeforeSweep(t *testing.T) {
	tr, clock := newTestTracker(nil)
	tr.RegisterRoom(1, "Sala 101")

	tr.Touch(1, 42, 100, 0.9)

	// exatamente no TTL a entrada ainda vale
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, tr.Snapshot(1).TotalCount)

	// 1s além do TTL, sem varredura alguma: leituras já não enxergam a
	// entrada, mesmo que a remoção física só venha no próximo sweep
	clock.Advance(1 * time.Second)
	snap := tr.Snapshot(1)
	assert.Equal(t, 0, snap.TotalCount)
	assert.Empty(t, snap.Occupants)

	_, ok := tr.Locate(42)
	assert.False(t, ok)

	snaps, total := tr.SnapshotAll()
	assert.Equal(t, 0, total)
	for _, s := range snaps {
		assert.Equal(t, 0, s.TotalCount)
	}

	// a varredura segue responsável por liberar a memória
	tr.evict()
	tr.mu.Lock()
	assert.Empty(t, tr.byStudent)
	tr.mu.Unlock()
}

func TestTracker_RemovePublishesDelta(t *testing.T) {
	h := hub.New(slog.Default(), nil, 8)
	tr, _ := newTestTracker(h)
	tr.RegisterRoom(1, "Sala 101")

	tr.Touch(1, 10, 100, 0.9)

	sub := h.Subscribe(hub.RoomTopic(1), hub.KindEvents)
	defer sub.Close()

	require.True(t, tr.Remove(10))
	assert.False(t, tr.Remove(10))

	_, ok := tr.Locate(10)
	assert.False(t, ok)

	msgs := drainSub(sub)
	require.Len(t, msgs, 1)
	var delta domain.PresenceDelta
	require.NoError(t, json.Unmarshal(msgs[0].Data, &delta))
	assert.Equal(t, 0, delta.TotalCount)
}

func drainSub(sub *hub.Subscription) []hub.Message {
	var msgs []hub.Message
	for {
		select {
		case msg := <-sub.C:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}
