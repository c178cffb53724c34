package bluetooth

import "errors"

// Transport-level failures the roles branch on. Everything here is
// recoverable; the roles log and re-arm rather than propagate.
var (
	// ErrBufferFull signals the platform's outbound notify buffer is
	// saturated; the chunk must be retried, not dropped.
	ErrBufferFull = errors.New("bluetooth: outbound buffer full")

	// ErrNotConnected signals a send with no usable link.
	ErrNotConnected = errors.New("bluetooth: not connected")
)

// Advertisement is one discovery sighting of a candidate peer.
type Advertisement struct {
	PeerID       string
	Name         string
	RSSI         int16
	ServiceUUIDs []string
}

// Characteristic describes one GATT characteristic on a resolved service.
// Handle is the platform-assigned reference (a D-Bus object path under
// BlueZ) used for writes and subscriptions.
type Characteristic struct {
	UUID   string
	Handle string
	Flags  []string
}

func (c Characteristic) hasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// CanWrite reports whether the characteristic accepts writes of any kind.
func (c Characteristic) CanWrite() bool {
	return c.hasFlag("write") || c.hasFlag("write-without-response")
}

// CanWriteWithResponse reports whether acknowledged writes are supported.
func (c Characteristic) CanWriteWithResponse() bool {
	return c.hasFlag("write")
}

// CanNotify reports whether the characteristic supports notifications.
func (c Characteristic) CanNotify() bool {
	return c.hasFlag("notify") || c.hasFlag("indicate")
}

// Central is the initiator-side radio surface: scan for advertising
// peers, connect outward, and talk to the remote service's
// characteristics. Implementations deliver asynchronous events to the
// observer; every observer call must be treated as an event and handed to
// the coordination queue before touching shared state.
type Central interface {
	Powered() bool

	// StartScan begins listening for advertisements, optionally filtered
	// to one service UUID (empty filter scans everything).
	StartScan(serviceFilter string) error
	StopScan() error

	Connect(peerID string) error
	Disconnect(peerID string) error

	// Characteristics lists the characteristics of serviceUUID on the
	// connected peer, or every characteristic when serviceUUID is empty.
	Characteristics(peerID, serviceUUID string) ([]Characteristic, error)

	Write(ch Characteristic, data []byte, withResponse bool) error
	Subscribe(ch Characteristic) error
}

// CentralObserver receives the central's asynchronous radio callbacks.
type CentralObserver interface {
	AdvertisementSeen(adv Advertisement)
	PeerConnected(peerID, name string)
	PeerDisconnected(peerID string)
	ValueUpdated(charUUID string, data []byte)
}

// Peripheral is the responder-side radio surface: publish the service,
// advertise, and push notifications to subscribers.
type Peripheral interface {
	Powered() bool

	// EnsureService publishes the GATT service and its two
	// characteristics. Idempotent; later calls are no-ops.
	EnsureService() error

	StartAdvertising(localName, serviceUUID string) error
	StopAdvertising() error

	// Notify pushes data to one subscriber. Returns ErrBufferFull when
	// the outbound buffer is saturated.
	Notify(subscriberID string, data []byte) error

	// TransferLimit reports the subscriber's current per-notification
	// payload limit, or 0 when unknown.
	TransferLimit(subscriberID string) int

	// AckWrite acknowledges an inbound write at the protocol level,
	// independent of whether the payload turns out to be valid.
	AckWrite(subscriberID string)
}

// PeripheralObserver receives the peripheral's asynchronous callbacks.
// ReadyToSend is the flow-control invite: the platform has room for more
// outbound data toward that subscriber.
type PeripheralObserver interface {
	SubscriberJoined(subscriberID string)
	SubscriberLeft(subscriberID string)
	WriteReceived(subscriberID string, data []byte)
	ReadyToSend(subscriberID string)
}
