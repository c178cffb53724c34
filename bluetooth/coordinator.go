package bluetooth

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saintenr/dis4ster-shr3k/location"
	"github.com/Saintenr/dis4ster-shr3k/marker"
	"github.com/Saintenr/dis4ster-shr3k/utils"
)

const timerSafetyNet = "coordinator/auto-connect-safety"

// Coordinator presents one unified channel over the two link roles and
// runs the marker-sync protocol on top of it. It owns the single
// serialized coordination queue: every radio callback, timer, and state
// mutation runs on it, which is what makes merge, auto-connect, and
// chunk-queue draining race-free without ad hoc locking of the shared
// collections.
type Coordinator struct {
	log      zerolog.Logger
	hub      *utils.Hub
	identity string
	store    marker.Store

	initiator *Initiator
	responder *Responder
	timers    *timerSet

	scanDuration time.Duration
	safetyDelay  time.Duration

	tasks    chan func()
	stopOnce sync.Once
	stopped  chan struct{}

	mu              sync.RWMutex
	chatLog         []string
	connectInFlight bool
}

// CoordinatorConfig carries the collaborators the coordinator wires
// together.
type CoordinatorConfig struct {
	Identity     string
	Central      Central
	Peripheral   Peripheral
	Location     location.Provider
	Store        marker.Store
	Hub          *utils.Hub
	Logger       zerolog.Logger
	DeviceName   string
	ScanDuration time.Duration
	ChunkSize    int
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		log:          cfg.Logger.With().Str("comp", "coordinator").Logger(),
		hub:          cfg.Hub,
		identity:     cfg.Identity,
		store:        cfg.Store,
		scanDuration: cfg.ScanDuration,
		safetyDelay:  AutoConnectSafetyDelay,
		tasks:        make(chan func(), 256),
		stopped:      make(chan struct{}),
	}
	if c.scanDuration <= 0 {
		c.scanDuration = DefaultScanDuration
	}

	c.timers = newTimerSet(c.Dispatch)
	c.initiator = NewInitiator(cfg.Central, cfg.Location, cfg.Identity, c.Dispatch,
		cfg.Logger.With().Str("comp", "initiator").Logger())
	c.responder = NewResponder(cfg.Peripheral, cfg.Location, cfg.Identity, c.Dispatch,
		cfg.Logger.With().Str("comp", "responder").Logger())
	if cfg.ChunkSize > 0 {
		c.responder.chunkSize = cfg.ChunkSize
	}
	// The advertised display name is configurable; LocalName stays the
	// discovery-side fallback a peer with defaults is recognized by.
	if cfg.DeviceName != "" {
		c.responder.localName = cfg.DeviceName
	}

	c.initiator.onMessagesChanged = c.merge
	c.responder.onMessagesChanged = c.merge
	c.initiator.onPeersUpdated = c.peersUpdated
	c.initiator.onPeerNameChanged = c.peerNameChanged
	c.initiator.onConnectFailed = c.connectAttemptFailed
	c.responder.onSubscribersChanged = c.subscribersChanged

	// A local add or update replicates out; markers arriving from a peer
	// enter through ReceiveExternal and deliberately never feed this hook.
	c.store.SetSyncFunc(func(m marker.Marker) {
		c.Dispatch(func() { c.SyncMarker(m) })
	})

	return c
}

// Initiator returns the owned initiator role.
func (c *Coordinator) Initiator() *Initiator { return c.initiator }

// Responder returns the owned responder role.
func (c *Coordinator) Responder() *Responder { return c.responder }

// Dispatch hands fn to the coordination queue. Safe from any goroutine;
// tasks arriving after Stop are dropped.
func (c *Coordinator) Dispatch(fn func()) {
	select {
	case <-c.stopped:
	case c.tasks <- fn:
	}
}

// Start launches the coordination loop, brings up both roles, and arms
// the auto-connect safety net.
func (c *Coordinator) Start() {
	go c.run()
	c.Dispatch(func() {
		c.responder.Start()
		c.initiator.StartDiscovery(c.scanDuration, ServiceUUID)
		c.timers.schedule(timerSafetyNet, c.safetyDelay, c.safetyNetConnect)
	})
}

// Stop shuts down both roles and the coordination loop. It blocks until
// the teardown task has run, even when the queue is under pressure; the
// loop keeps draining until then.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		done := make(chan struct{})
		c.tasks <- func() {
			c.timers.cancelAll()
			c.initiator.Stop()
			c.responder.Shutdown()
			close(done)
		}
		<-done
		close(c.stopped)
	})
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.stopped:
			return
		case fn := <-c.tasks:
			fn()
		}
	}
}

// ChatLog returns the current merged, marker-stripped chat view.
func (c *Coordinator) ChatLog() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.chatLog))
	copy(out, c.chatLog)
	return out
}

// Send routes text to whichever role has an active channel: the
// responder when it has at least one subscriber, else the initiator when
// it holds a usable link. With no channel the text is appended locally as
// a self-tagged best-effort echo; nothing is queued for redelivery.
func (c *Coordinator) Send(text string) {
	c.Dispatch(func() { c.send(text, true) })
}

func (c *Coordinator) send(text string, localEcho bool) {
	switch {
	case c.responder.SubscriberCount() > 0:
		c.responder.Send(text)
	case c.initiator.CanSend():
		c.initiator.Send(text)
	default:
		if localEcho {
			c.log.Warn().Str("text", text).Msg("no active link, appending locally")
			c.initiator.AppendLocal(text)
		} else {
			c.log.Warn().Msg("no active link, marker sync dropped")
		}
	}
}

// SyncMarker serializes m and pushes it to the peer over the shared
// channel. With no usable channel the attempt is dropped; nothing is
// persisted for later.
func (c *Coordinator) SyncMarker(m marker.Marker) {
	data, err := json.Marshal(m)
	if err != nil {
		c.log.Error().Err(err).Str("id", m.ID).Msg("marker serialize failed")
		return
	}
	c.send(MarkerPrefix+string(data), false)
}

// merge recomputes the unified view as initiator log + responder log,
// diverting marker-tagged lines to the sync handler and republishing the
// chat log only when its content actually changed.
func (c *Coordinator) merge() {
	initiatorMsgs := c.initiator.Messages()
	responderMsgs := c.responder.Messages()

	chat := make([]string, 0, len(initiatorMsgs)+len(responderMsgs))
	for _, line := range append(initiatorMsgs, responderMsgs...) {
		if body, ok := strings.CutPrefix(line, peerTag); ok && strings.HasPrefix(body, MarkerPrefix) {
			c.handleMarkerLine(body)
			continue
		}
		chat = append(chat, line)
	}

	c.mu.Lock()
	changed := !equalStrings(chat, c.chatLog)
	if changed {
		c.chatLog = chat
	}
	c.mu.Unlock()

	if changed {
		c.hub.Broadcast(utils.Event{Type: "chat/updated", Payload: chat})
	}
}

func (c *Coordinator) handleMarkerLine(body string) {
	raw := strings.TrimPrefix(body, MarkerPrefix)
	var m marker.Marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.ID == "" {
		c.log.Warn().Str("payload", raw).Msg("discarding unparsable marker line")
		return
	}
	if err := c.store.ReceiveExternal(m); err != nil {
		if errors.Is(err, marker.ErrDuplicateID) {
			c.log.Debug().Str("id", m.ID).Msg("duplicate marker ignored")
			return
		}
		c.log.Warn().Err(err).Str("id", m.ID).Msg("marker receive failed")
		return
	}
	c.log.Info().Str("id", m.ID).Str("cat", m.Category).Msg("marker received from peer")
	c.hub.Broadcast(utils.Event{Type: "marker/received", Payload: m})
}

// peersUpdated runs the auto-connect policy after every discovery-list
// change: with no active link and no attempt in flight, the first peer
// advertising the known service, or carrying the well-known name, is
// connected to automatically.
func (c *Coordinator) peersUpdated() {
	peers := c.initiator.Peers()
	c.hub.Broadcast(utils.Event{Type: "peers/updated", Payload: peers})

	if !c.autoConnectReady() {
		return
	}
	for _, p := range peers {
		if p.AdvertisesService(ServiceUUID) || p.Name == LocalName {
			c.beginAutoConnect(p)
			return
		}
	}
}

// safetyNetConnect fires a fixed delay after Start: if nothing connected
// through the normal policy, connect to the strongest-signal peer seen so
// far.
func (c *Coordinator) safetyNetConnect() {
	if !c.autoConnectReady() {
		return
	}
	peers := c.initiator.Peers()
	if len(peers) == 0 {
		c.log.Debug().Msg("safety net: no peers discovered yet")
		return
	}
	c.beginAutoConnect(peers[0])
}

func (c *Coordinator) autoConnectReady() bool {
	c.mu.RLock()
	inFlight := c.connectInFlight
	c.mu.RUnlock()
	return !inFlight && c.initiator.ConnectedPeerName() == ""
}

func (c *Coordinator) beginAutoConnect(p DiscoveredPeer) {
	c.mu.Lock()
	if c.connectInFlight {
		c.mu.Unlock()
		return
	}
	c.connectInFlight = true
	c.mu.Unlock()

	c.log.Info().Str("peer", p.Name).Str("id", p.ID).Int("rssi", int(p.RSSI)).Msg("auto-connecting")
	c.initiator.Connect(p.ID)
}

// connectAttemptFailed runs when a connect attempt aborts without ever
// establishing a link (central error or timeout). The in-flight guard is
// released and the hunt resumes: discovery restarts and the safety net is
// re-armed, so one unreachable peer cannot wedge the auto-connect policy.
func (c *Coordinator) connectAttemptFailed() {
	c.mu.Lock()
	c.connectInFlight = false
	c.mu.Unlock()

	c.log.Info().Msg("connect attempt failed, resuming discovery")
	c.initiator.StartDiscovery(c.scanDuration, ServiceUUID)
	c.timers.schedule(timerSafetyNet, c.safetyDelay, c.safetyNetConnect)
}

// peerNameChanged handles every transition of the initiator's connected
// peer name. Any transition resets the in-flight guard; a transition from
// none to a value triggers the full marker push so a newly connected peer
// receives the complete current set.
func (c *Coordinator) peerNameChanged(name string) {
	c.mu.Lock()
	c.connectInFlight = false
	c.mu.Unlock()

	if name != "" {
		c.log.Info().Str("peer", name).Msg("link established")
		c.hub.Broadcast(utils.Event{Type: "link/connected", Payload: name})
		c.fullMarkerSync()
	} else {
		c.log.Info().Msg("link lost")
		c.hub.Broadcast(utils.Event{Type: "link/disconnected"})
	}
}

// fullMarkerSync pushes every stored marker sequentially. Push-only and
// unacknowledged; the receiving store absorbs duplicates by id.
func (c *Coordinator) fullMarkerSync() {
	markers := c.store.ListAll()
	c.log.Info().Int("count", len(markers)).Msg("pushing full marker set to peer")
	for _, m := range markers {
		c.SyncMarker(m)
	}
}

func (c *Coordinator) subscribersChanged(count int) {
	c.hub.Broadcast(utils.Event{Type: "link/subscribers", Payload: count})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
