package bluetooth

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saintenr/dis4ster-shr3k/location"
)

const (
	timerScanStop = "initiator/scan-stop"
	timerConnect  = "initiator/connect-timeout"
)

// Initiator is the side of the link that discovers advertising peers and
// connects outward. All state mutation happens on the coordination queue
// the dispatch function feeds; the radio surface calls back through
// CentralObserver, and every callback is re-dispatched before it touches
// state.
type Initiator struct {
	mu       sync.RWMutex
	log      zerolog.Logger
	central  Central
	loc      location.Provider
	identity string
	dispatch func(func())
	timers   *timerSet
	session  *Session

	connectTimeout time.Duration

	peers         *peerList
	discovering   bool
	connecting    bool
	connectedID   string
	connectedName string
	writeChar     *Characteristic
	notifyChar    *Characteristic

	messages []string

	// Coordinator hooks, invoked on the coordination queue.
	onMessagesChanged func()
	onPeersUpdated    func()
	onPeerNameChanged func(name string)
	onConnectFailed   func()
}

func NewInitiator(central Central, loc location.Provider, identity string, dispatch func(func()), log zerolog.Logger) *Initiator {
	i := &Initiator{
		log:            log,
		central:        central,
		loc:            loc,
		identity:       identity,
		dispatch:       dispatch,
		timers:         newTimerSet(dispatch),
		session:        newSession(log),
		connectTimeout: ConnectTimeout,
		peers:          newPeerList(),
	}
	i.session.setPowered(central.Powered())
	return i
}

// Session exposes the role's UI-visible state.
func (i *Initiator) Session() *Session { return i.session }

// Peers returns the discovered-peer list, strongest signal first.
func (i *Initiator) Peers() []DiscoveredPeer {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.peers.snapshot()
}

// Messages returns the role's message log in arrival order.
func (i *Initiator) Messages() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, len(i.messages))
	copy(out, i.messages)
	return out
}

// ConnectedPeerName returns the display name of the connected peer, or ""
// when no link is up.
func (i *Initiator) ConnectedPeerName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connectedName
}

// CanSend reports whether the role holds an active connection with a
// usable outbound characteristic.
func (i *Initiator) CanSend() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connectedID != "" && i.writeChar != nil
}

// StartDiscovery clears the discovered-peer list and begins listening for
// advertisements, stopping automatically after d. Calling it while a pass
// is already running stops the prior pass first; passes debounce, they do
// not stack.
func (i *Initiator) StartDiscovery(d time.Duration, serviceFilter string) {
	i.mu.Lock()
	if i.discovering {
		i.mu.Unlock()
		i.StopDiscovery()
		i.mu.Lock()
	}
	i.peers.reset()
	i.mu.Unlock()

	if err := i.central.StartScan(serviceFilter); err != nil {
		i.session.logf("discovery failed to start: %v", err)
		return
	}

	i.mu.Lock()
	i.discovering = true
	i.mu.Unlock()
	i.session.setDiscovering(true)
	i.session.logf("discovery started for %s", d)

	i.timers.schedule(timerScanStop, d, i.StopDiscovery)
}

// StopDiscovery cancels the scheduled auto-stop and halts listening.
// No-op if not discovering.
func (i *Initiator) StopDiscovery() {
	i.mu.Lock()
	if !i.discovering {
		i.mu.Unlock()
		return
	}
	i.discovering = false
	i.mu.Unlock()

	i.timers.cancel(timerScanStop)
	if err := i.central.StopScan(); err != nil {
		i.session.logf("discovery stop: %v", err)
	}
	i.session.setDiscovering(false)
	i.session.logf("discovery stopped")
}

// Connect stops discovery, tears down any existing link, and initiates a
// connection to peerID guarded by a fixed timeout. A timeout aborts the
// attempt and returns the role to idle; it is recoverable, not fatal.
func (i *Initiator) Connect(peerID string) {
	i.StopDiscovery()

	i.mu.Lock()
	if prev := i.connectedID; prev != "" {
		i.clearLinkLocked()
		i.mu.Unlock()
		i.central.Disconnect(prev)
		i.mu.Lock()
	}
	i.connecting = true
	i.mu.Unlock()

	i.session.logf("connecting to %s", peerID)
	if err := i.central.Connect(peerID); err != nil {
		i.mu.Lock()
		i.connecting = false
		cb := i.onConnectFailed
		i.mu.Unlock()
		i.session.logf("connect to %s failed: %v", peerID, err)
		if cb != nil {
			cb()
		}
		return
	}

	i.timers.schedule(timerConnect, i.connectTimeout, func() {
		i.mu.Lock()
		stillConnecting := i.connecting
		cb := i.onConnectFailed
		i.connecting = false
		i.mu.Unlock()
		if stillConnecting {
			i.session.logf("connect to %s timed out after %s", peerID, i.connectTimeout)
			i.central.Disconnect(peerID)
			if cb != nil {
				cb()
			}
		}
	})
}

// Disconnect tears down the current link, if any.
func (i *Initiator) Disconnect() {
	i.mu.Lock()
	peer := i.connectedID
	i.mu.Unlock()
	if peer != "" {
		i.central.Disconnect(peer)
	}
}

// Send builds a frame around text and writes it to the connected peer,
// preferring acknowledged writes when the outbound characteristic
// supports them. With no usable link the send fails safely: logged,
// nothing written.
func (i *Initiator) Send(text string) error {
	i.mu.RLock()
	ch := i.writeChar
	connected := i.connectedID != ""
	i.mu.RUnlock()

	if !connected || ch == nil {
		i.session.logf("send dropped, no usable link: %q", text)
		return ErrNotConnected
	}

	data, err := EncodeFrame(NewFrame(i.identity, text, i.loc))
	if err != nil {
		// Fall back to the raw text so the message still goes out.
		i.session.logf("frame encode failed (%v), sending raw text", err)
		data = []byte(text)
	}

	if err := i.central.Write(*ch, data, ch.CanWriteWithResponse()); err != nil {
		i.session.logf("write failed: %v", err)
		return err
	}

	i.appendMessage(selfTag + text)
	return nil
}

// AppendLocal appends a self-tagged line without touching the radio. The
// coordinator uses it for the best-effort local echo when no link exists.
func (i *Initiator) AppendLocal(text string) {
	i.appendMessage(selfTag + text)
}

func (i *Initiator) appendMessage(line string) {
	i.mu.Lock()
	i.messages = append(i.messages, line)
	cb := i.onMessagesChanged
	i.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Stop halts discovery, drops any link, and invalidates pending timers.
func (i *Initiator) Stop() {
	i.StopDiscovery()
	i.Disconnect()
	i.timers.cancelAll()
}

// --- CentralObserver; all calls arrive via the coordination queue ---

func (i *Initiator) AdvertisementSeen(adv Advertisement) {
	i.mu.Lock()
	if !i.discovering {
		i.mu.Unlock()
		return
	}
	i.peers.upsert(adv)
	cb := i.onPeersUpdated
	i.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (i *Initiator) PeerConnected(peerID, name string) {
	i.timers.cancel(timerConnect)

	i.mu.Lock()
	i.connecting = false
	i.connectedID = peerID
	i.connectedName = name
	i.mu.Unlock()

	i.session.setConnectedPeer(name)
	i.session.logf("connected to %s (%s)", name, peerID)

	i.resolveCharacteristics(peerID)

	i.mu.RLock()
	cb := i.onPeerNameChanged
	i.mu.RUnlock()
	if cb != nil {
		cb(name)
	}
}

func (i *Initiator) PeerDisconnected(peerID string) {
	i.mu.Lock()
	if i.connectedID != peerID {
		i.mu.Unlock()
		return
	}
	i.clearLinkLocked()
	cb := i.onPeerNameChanged
	i.mu.Unlock()

	i.timers.cancel(timerConnect)
	i.session.setConnectedPeer("")
	i.session.logf("disconnected from %s", peerID)
	if cb != nil {
		cb("")
	}
}

func (i *Initiator) ValueUpdated(charUUID string, data []byte) {
	i.mu.RLock()
	notify := i.notifyChar
	i.mu.RUnlock()
	if notify != nil && !strings.EqualFold(charUUID, notify.UUID) {
		return
	}
	if line, ok := classifyInbound(i.identity, data, i.session); ok {
		i.appendMessage(line)
	}
}

// clearLinkLocked drops the connected-peer reference and both resolved
// characteristics so any later send fails safely until reconnection.
func (i *Initiator) clearLinkLocked() {
	i.connectedID = ""
	i.connectedName = ""
	i.writeChar = nil
	i.notifyChar = nil
	i.connecting = false
}

// resolveCharacteristics locates the link service's outbound and inbound
// characteristics, falling back to the first writable and first
// notifiable ones found when the expected UUIDs are absent. A link with
// no usable characteristic stays connected but non-functional.
func (i *Initiator) resolveCharacteristics(peerID string) {
	chars, err := i.central.Characteristics(peerID, ServiceUUID)
	if err != nil || len(chars) == 0 {
		chars, err = i.central.Characteristics(peerID, "")
		if err != nil {
			i.session.logf("characteristic discovery failed: %v", err)
			return
		}
	}

	var write, notify *Characteristic
	for idx := range chars {
		ch := &chars[idx]
		switch {
		case strings.EqualFold(ch.UUID, WriteCharUUID):
			write = ch
		case strings.EqualFold(ch.UUID, NotifyCharUUID):
			notify = ch
		}
	}
	if write == nil {
		for idx := range chars {
			if chars[idx].CanWrite() {
				write = &chars[idx]
				i.session.logf("expected write characteristic absent, using %s", write.UUID)
				break
			}
		}
	}
	if notify == nil {
		for idx := range chars {
			if chars[idx].CanNotify() {
				notify = &chars[idx]
				i.session.logf("expected notify characteristic absent, using %s", notify.UUID)
				break
			}
		}
	}

	i.mu.Lock()
	i.writeChar = write
	i.notifyChar = notify
	i.mu.Unlock()

	if write == nil && notify == nil {
		i.session.logf("no usable characteristics on %s, link is non-functional", peerID)
		return
	}
	if notify != nil {
		if err := i.central.Subscribe(*notify); err != nil {
			i.session.logf("subscribe to %s failed: %v", notify.UUID, err)
		}
	}
}
