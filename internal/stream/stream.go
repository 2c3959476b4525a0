// Package stream implements the Stream Activity Bus (spec §4.9): a
// per-configHash ring of SSE listeners capped at MaxListenersPerChannel,
// a shared 40s heartbeat ticker that prunes dead or stale connections, and
// an LRU-bounded, TTL'd record of each config's latest activity snapshot.
// Grounded on the teacher's handlers/websocket_handler.go broadcast-to-
// registered-clients shape, adapted from a single global client set to one
// ring per configHash and from gorilla/websocket framing to SSE event
// payloads.
package stream

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"submaker/internal/models"
)

const (
	// MaxListenersPerChannel bounds concurrent SSE subscribers per
	// configHash; beyond this the handler responds 204 with Retry-After.
	MaxListenersPerChannel = 4
	// RetryAfterSeconds is attached to the 204 response when a channel is
	// at capacity.
	RetryAfterSeconds = 5
	// HeartbeatInterval is how often a "ping" event is written to every
	// live listener.
	HeartbeatInterval = 40 * time.Second
	// MaxConnectionAge prunes a listener even if it is otherwise healthy.
	MaxConnectionAge = time.Hour
	// ActivityTTL is how long a StreamActivityEntry survives without being
	// refreshed.
	ActivityTTL = 6 * time.Hour

	eventBufferSize = 32
)

// ErrTooManyListeners is returned by Subscribe when a channel already has
// MaxListenersPerChannel live listeners.
var ErrTooManyListeners = errors.New("stream: channel at listener capacity")

type listener struct {
	ch        chan models.StreamEvent
	createdAt time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

func newListener() *listener {
	return &listener{ch: make(chan models.StreamEvent, eventBufferSize), createdAt: time.Now(), closed: make(chan struct{})}
}

func (l *listener) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *listener) isLive() bool {
	select {
	case <-l.closed:
		return false
	default:
		return time.Since(l.createdAt) < MaxConnectionAge
	}
}

type channelState struct {
	mu        sync.Mutex
	listeners []*listener
}

// Bus is the Stream Activity Bus. It is safe for concurrent use and owns
// one background heartbeat goroutine started by StartHeartbeat.
type Bus struct {
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*channelState

	activityMu      sync.Mutex
	activityEntries map[string]*list.Element
	activityLRU     *list.List
	maxActivity     int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type activityRecord struct {
	configHash string
	entry      models.StreamActivityEntry
}

// New builds a Bus. maxActivity bounds how many distinct configHashes'
// activity snapshots are retained at once (LRU eviction beyond that).
func New(logger *zap.Logger, maxActivity int) *Bus {
	if maxActivity <= 0 {
		maxActivity = 10000
	}
	return &Bus{
		logger:          logger,
		channels:        make(map[string]*channelState),
		activityEntries: make(map[string]*list.Element),
		activityLRU:     list.New(),
		maxActivity:     maxActivity,
		stopCh:          make(chan struct{}),
	}
}

func (b *Bus) channel(configHash string) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[configHash]
	if !ok {
		ch = &channelState{}
		b.channels[configHash] = ch
	}
	return ch
}

// Subscription is a live SSE subscriber's handle on a channel.
type Subscription struct {
	Events <-chan models.StreamEvent
	bus    *Bus
	key    string
	l      *listener
}

// Close unsubscribes, releasing the listener slot immediately rather than
// waiting for the next heartbeat prune.
func (s *Subscription) Close() {
	s.l.close()
	cs := s.bus.channel(s.key)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i, l := range cs.listeners {
		if l == s.l {
			cs.listeners = append(cs.listeners[:i], cs.listeners[i+1:]...)
			break
		}
	}
}

// Subscribe registers a new SSE listener on configHash, or returns
// ErrTooManyListeners if the channel is already at MaxListenersPerChannel.
func (b *Bus) Subscribe(configHash string) (*Subscription, error) {
	cs := b.channel(configHash)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	live := cs.listeners[:0]
	for _, l := range cs.listeners {
		if l.isLive() {
			live = append(live, l)
		}
	}
	cs.listeners = live
	if len(cs.listeners) >= MaxListenersPerChannel {
		return nil, ErrTooManyListeners
	}

	l := newListener()
	cs.listeners = append(cs.listeners, l)
	return &Subscription{Events: l.ch, bus: b, key: configHash, l: l}, nil
}

// Publish delivers event to every live listener on configHash, in order.
// Delivery is non-blocking per listener: a listener whose buffer is full
// (a slow or stalled client) drops the event rather than stalling the
// publisher, the same tradeoff the teacher's WebSocket broadcast makes by
// best-effort writing to every connection.
func (b *Bus) Publish(configHash string, event models.StreamEvent) {
	cs := b.channel(configHash)
	cs.mu.Lock()
	listeners := append([]*listener(nil), cs.listeners...)
	cs.mu.Unlock()

	for _, l := range listeners {
		if !l.isLive() {
			continue
		}
		select {
		case l.ch <- event:
		default:
			if b.logger != nil {
				b.logger.Warn("stream: dropping event for slow listener", zap.String("config", configHash))
			}
		}
	}
}

// StartHeartbeat begins the shared 40s ticker that writes a ping event to
// every live listener across every channel and prunes dead/expired ones.
func (b *Bus) StartHeartbeat(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.heartbeatOnce()
			}
		}
	}()
}

func (b *Bus) heartbeatOnce() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.channels))
	for k := range b.channels {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	ping := models.StreamEvent{Type: models.EventPing}
	for _, k := range keys {
		cs := b.channel(k)
		cs.mu.Lock()
		live := cs.listeners[:0]
		for _, l := range cs.listeners {
			if !l.isLive() {
				continue
			}
			select {
			case l.ch <- ping:
			default:
			}
			live = append(live, l)
		}
		cs.listeners = live
		cs.mu.Unlock()
	}
}

// Stop terminates the heartbeat loop. Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// UpdateActivity records configHash's latest activity snapshot and
// publishes it as a "ready"/"episode"-class event is the caller's
// responsibility (UpdateActivity only maintains the LRU; callers call
// Publish separately with the appropriate event type).
func (b *Bus) UpdateActivity(configHash string, entry models.StreamActivityEntry) {
	entry.UpdatedAt = time.Now()
	b.activityMu.Lock()
	defer b.activityMu.Unlock()

	if el, ok := b.activityEntries[configHash]; ok {
		b.activityLRU.MoveToFront(el)
		el.Value.(*activityRecord).entry = entry
		return
	}

	el := b.activityLRU.PushFront(&activityRecord{configHash: configHash, entry: entry})
	b.activityEntries[configHash] = el
	if b.activityLRU.Len() > b.maxActivity {
		oldest := b.activityLRU.Back()
		if oldest != nil {
			b.activityLRU.Remove(oldest)
			delete(b.activityEntries, oldest.Value.(*activityRecord).configHash)
		}
	}
}

// Activity returns configHash's latest activity snapshot, if present and
// not older than ActivityTTL.
func (b *Bus) Activity(configHash string) (models.StreamActivityEntry, bool) {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()

	el, ok := b.activityEntries[configHash]
	if !ok {
		return models.StreamActivityEntry{}, false
	}
	rec := el.Value.(*activityRecord)
	if time.Since(rec.entry.UpdatedAt) > ActivityTTL {
		b.activityLRU.Remove(el)
		delete(b.activityEntries, configHash)
		return models.StreamActivityEntry{}, false
	}
	b.activityLRU.MoveToFront(el)
	return rec.entry, true
}
