package bluetooth

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saintenr/dis4ster-shr3k/location"
)

// Responder is the side of the link that advertises the service and
// accepts inbound connections. Outbound frames go to subscribers as a
// sequence of bounded-size chunks over notification; a saturated
// outbound buffer re-queues the chunk and retries, and the platform's
// ready-to-send invite drains the pending queue in original order.
type Responder struct {
	mu         sync.RWMutex
	log        zerolog.Logger
	peripheral Peripheral
	loc        location.Provider
	identity   string
	dispatch   func(func())
	timers     *timerSet
	session    *Session

	serviceUp   bool
	advertising bool
	subscribers map[string]struct{}
	pending     map[string][][]byte // per-subscriber FIFO chunk queue

	localName  string
	chunkSize  int
	retryDelay time.Duration

	messages []string

	onMessagesChanged    func()
	onSubscribersChanged func(count int)
}

func NewResponder(peripheral Peripheral, loc location.Provider, identity string, dispatch func(func()), log zerolog.Logger) *Responder {
	r := &Responder{
		log:         log,
		peripheral:  peripheral,
		loc:         loc,
		identity:    identity,
		dispatch:    dispatch,
		timers:      newTimerSet(dispatch),
		session:     newSession(log),
		subscribers: make(map[string]struct{}),
		pending:     make(map[string][][]byte),
		localName:   LocalName,
		chunkSize:   DefaultChunkSize,
		retryDelay:  ChunkRetryDelay,
	}
	r.session.setPowered(peripheral.Powered())
	return r
}

// Session exposes the role's UI-visible state.
func (r *Responder) Session() *Session { return r.session }

// SubscriberCount is the signal the coordinator uses to decide whether
// this channel is usable for sending.
func (r *Responder) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Messages returns the role's message log in arrival order.
func (r *Responder) Messages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Start publishes the service and characteristics (exactly once) and
// begins advertising. No-op when already advertising or when the radio
// is unavailable.
func (r *Responder) Start() {
	if !r.peripheral.Powered() {
		r.session.logf("radio unavailable, not advertising")
		return
	}

	r.mu.Lock()
	if r.advertising {
		r.mu.Unlock()
		return
	}
	needService := !r.serviceUp
	r.mu.Unlock()

	if needService {
		if err := r.peripheral.EnsureService(); err != nil {
			r.session.logf("service registration failed: %v", err)
			return
		}
		r.mu.Lock()
		r.serviceUp = true
		r.mu.Unlock()
	}

	if err := r.peripheral.StartAdvertising(r.localName, ServiceUUID); err != nil {
		r.session.logf("advertising failed to start: %v", err)
		return
	}
	r.mu.Lock()
	r.advertising = true
	r.mu.Unlock()
	r.session.logf("advertising as %q", r.localName)
}

// Stop halts advertising. Existing subscriptions stay up until each
// subscriber unsubscribes on its own.
func (r *Responder) Stop() {
	r.mu.Lock()
	if !r.advertising {
		r.mu.Unlock()
		return
	}
	r.advertising = false
	r.mu.Unlock()

	if err := r.peripheral.StopAdvertising(); err != nil {
		r.session.logf("advertising stop: %v", err)
	}
	r.session.logf("advertising stopped")
}

// Send builds a frame around text and delivers it to every subscriber as
// chunks no larger than the configured cap.
func (r *Responder) Send(text string) error {
	r.mu.RLock()
	subs := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		subs = append(subs, id)
	}
	chunkSize := r.chunkSize
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.session.logf("send dropped, no subscribers: %q", text)
		return ErrNotConnected
	}

	data, err := EncodeFrame(NewFrame(r.identity, text, r.loc))
	if err != nil {
		r.session.logf("frame encode failed (%v), sending raw text", err)
		data = []byte(text)
	}

	chunks := splitChunks(data, chunkSize)
	for _, sub := range subs {
		r.enqueue(sub, chunks)
		r.drain(sub)
	}

	r.appendMessage(selfTag + text)
	return nil
}

// splitChunks cuts data into pieces of at most size bytes, preserving
// order.
func splitChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]byte
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	chunks = append(chunks, data)
	return chunks
}

func (r *Responder) enqueue(sub string, chunks [][]byte) {
	r.mu.Lock()
	r.pending[sub] = append(r.pending[sub], chunks...)
	r.mu.Unlock()
}

// drain pushes the subscriber's pending chunks in FIFO order. A head
// chunk exceeding the currently reported transfer limit is split in
// place, head re-queued ahead of tail, never sent oversized. A saturated
// buffer arms a retry timer instead of dropping the chunk.
func (r *Responder) drain(sub string) {
	for {
		r.mu.Lock()
		queue := r.pending[sub]
		if len(queue) == 0 {
			delete(r.pending, sub)
			r.mu.Unlock()
			return
		}
		if _, live := r.subscribers[sub]; !live {
			delete(r.pending, sub)
			r.mu.Unlock()
			return
		}
		head := queue[0]
		if limit := r.peripheral.TransferLimit(sub); limit > 0 && len(head) > limit {
			rest := head[limit:]
			head = head[:limit]
			queue[0] = head
			r.pending[sub] = append(queue[:1], append([][]byte{rest}, queue[1:]...)...)
		}
		r.mu.Unlock()

		err := r.peripheral.Notify(sub, head)
		if errors.Is(err, ErrBufferFull) {
			r.session.logf("outbound buffer full for %s, retrying in %s", sub, r.retryDelay)
			r.timers.schedule("responder/chunk-retry/"+sub, r.retryDelay, func() {
				r.drain(sub)
			})
			return
		}
		if err != nil {
			r.session.logf("notify to %s failed, dropping frame remainder: %v", sub, err)
			r.mu.Lock()
			delete(r.pending, sub)
			r.mu.Unlock()
			return
		}

		r.mu.Lock()
		if q := r.pending[sub]; len(q) > 0 {
			r.pending[sub] = q[1:]
		}
		r.mu.Unlock()
	}
}

func (r *Responder) appendMessage(line string) {
	r.mu.Lock()
	r.messages = append(r.messages, line)
	cb := r.onMessagesChanged
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (r *Responder) publishSubscriberCount() {
	r.mu.RLock()
	count := len(r.subscribers)
	cb := r.onSubscribersChanged
	r.mu.RUnlock()
	r.session.setSubscribers(count)
	if cb != nil {
		cb(count)
	}
}

// Shutdown stops advertising and invalidates every pending retry timer.
func (r *Responder) Shutdown() {
	r.Stop()
	r.timers.cancelAll()
}

// --- PeripheralObserver; all calls arrive via the coordination queue ---

func (r *Responder) SubscriberJoined(sub string) {
	r.mu.Lock()
	r.subscribers[sub] = struct{}{}
	r.mu.Unlock()
	r.session.logf("subscriber joined: %s", sub)
	r.publishSubscriberCount()
}

func (r *Responder) SubscriberLeft(sub string) {
	r.mu.Lock()
	delete(r.subscribers, sub)
	delete(r.pending, sub)
	r.mu.Unlock()
	r.timers.cancel("responder/chunk-retry/" + sub)
	r.session.logf("subscriber left: %s", sub)
	r.publishSubscriberCount()
}

func (r *Responder) WriteReceived(sub string, data []byte) {
	// Protocol-level ack is unconditional, independent of payload
	// validity.
	r.peripheral.AckWrite(sub)
	if line, ok := classifyInbound(r.identity, data, r.session); ok {
		r.appendMessage(line)
	}
}

func (r *Responder) ReadyToSend(sub string) {
	r.timers.cancel("responder/chunk-retry/" + sub)
	r.drain(sub)
}
