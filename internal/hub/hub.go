// Package hub distribui eventos e quadros para assinantes WebSocket.
// Publicadores nunca bloqueiam: assinantes lentos perdem as mensagens mais
// antigas da própria fila, nunca atrasam os demais.
package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
)

const DefaultQueueSize = 32

// Kind seleciona o que uma assinatura recebe em tópicos de câmera.
type Kind int

const (
	// KindEvents recebe apenas mensagens JSON (reconhecimento, status, presença)
	KindEvents Kind = iota
	// KindFrames recebe apenas quadros binários
	KindFrames
	// KindBoth recebe ambos
	KindBoth
)

// Topic helpers. Tópicos são strings planas; assinantes e publicadores
// precisam apenas concordar no nome.
const TopicRoomsAll = "rooms:all"

func CameraTopic(id int64) string { return fmt.Sprintf("camera:%d", id) }
func RoomTopic(id int64) string   { return fmt.Sprintf("room:%d", id) }

// Message é uma entrega para um assinante. Seq é monotônico por tópico;
// lacunas indicam mensagens descartadas por fila cheia.
type Message struct {
	Topic  string
	Seq    uint64
	Binary bool
	Data   []byte
}

// Subscription é a ponta de consumo. Leia de C até o fechamento.
type Subscription struct {
	hub   *Hub
	topic string
	kind  Kind
	C     chan Message

	dropped atomic.Uint64
	closed  bool
}

// Topic retorna o tópico da assinatura.
func (s *Subscription) Topic() string { return s.topic }

// Dropped retorna quantas mensagens esta assinatura perdeu por fila cheia.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close encerra a assinatura. Idempotente; equivale a hub.Unsubscribe.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// topicState isola o lock de cada tópico: publicar quadros de uma câmera
// não disputa lock com as demais. O estado fica vivo mesmo sem assinantes
// para a sequência continuar monotônica entre reconexões.
type topicState struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

type Hub struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	queueSize int

	mu     sync.RWMutex
	topics map[string]*topicState
}

func New(logger *slog.Logger, m *metrics.Metrics, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		logger:    logger,
		metrics:   m,
		queueSize: queueSize,
		topics:    make(map[string]*topicState),
	}
}

func (h *Hub) topic(name string) *topicState {
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t != nil {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t = h.topics[name]; t == nil {
		t = &topicState{subs: make(map[*Subscription]struct{})}
		h.topics[name] = t
	}
	return t
}

// Subscribe registra um assinante no tópico. O chamador deve encerrar com
// Unsubscribe (ou Subscription.Close); abandonar a assinatura vaza a fila.
func (h *Hub) Subscribe(topic string, kind Kind) *Subscription {
	sub := &Subscription{
		hub:   h,
		topic: topic,
		kind:  kind,
		C:     make(chan Message, h.queueSize),
	}

	t := h.topic(topic)
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(topicKind(topic)).Inc()
	}

	return sub
}

// Unsubscribe remove o assinante e fecha seu canal.
func (h *Hub) Unsubscribe(sub *Subscription) {
	t := h.topic(sub.topic)

	t.mu.Lock()
	if sub.closed {
		t.mu.Unlock()
		return
	}
	sub.closed = true
	delete(t.subs, sub)
	close(sub.C)
	t.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(topicKind(sub.topic)).Dec()
	}
}

// PublishJSON serializa v e entrega aos assinantes de eventos do tópico.
func (h *Hub) PublishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("hub marshal failed", "topic", topic, "error", err)
		return
	}
	h.publish(topic, data, false)
}

// PublishFrame entrega um quadro binário aos assinantes de frames do tópico.
func (h *Hub) PublishFrame(topic string, frame []byte) {
	h.publish(topic, frame, true)
}

func (h *Hub) publish(topic string, data []byte, binary bool) {
	h.mu.RLock()
	t := h.topics[topic]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.subs) == 0 {
		return
	}

	t.seq++
	msg := Message{
		Topic:  topic,
		Seq:    t.seq,
		Binary: binary,
		Data:   data,
	}

	for sub := range t.subs {
		if !sub.wants(binary) {
			continue
		}
		h.deliver(sub, msg)
	}
}

// deliver tenta enfileirar; com a fila cheia descarta a mensagem mais
// antiga e tenta de novo. Nunca bloqueia.
func (h *Hub) deliver(sub *Subscription, msg Message) {
	for {
		select {
		case sub.C <- msg:
			return
		default:
		}

		select {
		case <-sub.C:
			sub.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.DroppedMessages.WithLabelValues(topicKind(sub.topic)).Inc()
			}
		default:
			// consumer drained the queue between the two selects; retry
		}
	}
}

func (s *Subscription) wants(binary bool) bool {
	switch s.kind {
	case KindBoth:
		return true
	case KindFrames:
		return binary
	default:
		return !binary
	}
}

func topicKind(topic string) string {
	switch {
	case topic == TopicRoomsAll:
		return "rooms"
	case len(topic) > 5 && topic[:5] == "room:":
		return "room"
	default:
		return "camera"
	}
}
