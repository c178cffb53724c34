package bluetooth

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Saintenr/dis4ster-shr3k/location"
)

func newTestInitiator(central *fakeCentral) *Initiator {
	return NewInitiator(central, location.None{}, "local-device", syncDispatch, testLogger())
}

func serviceChars() []Characteristic {
	return []Characteristic{
		{UUID: WriteCharUUID, Handle: "/dev0/char0", Flags: []string{"write", "write-without-response"}},
		{UUID: NotifyCharUUID, Handle: "/dev0/char1", Flags: []string{"notify"}},
	}
}

func connectInitiator(t *testing.T, i *Initiator, central *fakeCentral, peerID, name string) {
	t.Helper()
	central.serviceChars = serviceChars()
	i.Connect(peerID)
	i.PeerConnected(peerID, name)
	if !i.CanSend() {
		t.Fatal("Expected a usable link after connect")
	}
}

func TestInitiatorDiscoveryCollectsPeers(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)

	i.StartDiscovery(time.Minute, ServiceUUID)
	i.AdvertisementSeen(Advertisement{PeerID: "aa:bb", Name: "Camp", RSSI: -50})
	i.AdvertisementSeen(Advertisement{PeerID: "cc:dd", Name: "Relay", RSSI: -40})

	peers := i.Peers()
	if len(peers) != 2 {
		t.Fatalf("Expected 2 discovered peers, got %d", len(peers))
	}
	if peers[0].ID != "cc:dd" {
		t.Errorf("Expected strongest peer first, got '%s'", peers[0].ID)
	}

	// Sightings after discovery stops are ignored.
	i.StopDiscovery()
	i.AdvertisementSeen(Advertisement{PeerID: "ee:ff", RSSI: -30})
	if got := len(i.Peers()); got != 2 {
		t.Errorf("Expected sightings after stop to be ignored, got %d peers", got)
	}
}

func TestInitiatorRestartClearsPeerList(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)

	i.StartDiscovery(time.Minute, "")
	i.AdvertisementSeen(Advertisement{PeerID: "aa:bb", RSSI: -50})
	i.StartDiscovery(time.Minute, "")

	if got := len(i.Peers()); got != 0 {
		t.Errorf("Expected a fresh pass to clear the peer list, got %d peers", got)
	}
}

func TestInitiatorConnectTimeout(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	i.connectTimeout = 20 * time.Millisecond

	var failures int32
	i.onConnectFailed = func() { atomic.AddInt32(&failures, 1) }

	i.Connect("aa:bb")

	waitFor(t, time.Second, func() bool {
		return len(central.disconnectTargets()) == 1
	})

	if i.CanSend() {
		t.Error("Expected no usable link after a connect timeout")
	}
	if i.ConnectedPeerName() != "" {
		t.Errorf("Expected no connected-peer reference, got '%s'", i.ConnectedPeerName())
	}

	found := false
	for _, e := range i.Session().Snapshot().Log {
		if strings.Contains(e.Message, "timed out") {
			found = true
		}
	}
	if !found {
		t.Error("Expected a timeout entry in the session log")
	}
	if got := atomic.LoadInt32(&failures); got != 1 {
		t.Errorf("Expected 1 connect-failed notification, got %d", got)
	}
}

func TestInitiatorConnectErrorNotifiesFailure(t *testing.T) {
	central := newFakeCentral()
	central.connectErr = ErrNotConnected
	i := newTestInitiator(central)

	failures := 0
	i.onConnectFailed = func() { failures++ }

	i.Connect("aa:bb")

	if failures != 1 {
		t.Errorf("Expected 1 connect-failed notification, got %d", failures)
	}
	if i.CanSend() {
		t.Error("Expected no usable link after a rejected connect")
	}
}

func TestInitiatorTimeoutCanceledBySuccess(t *testing.T) {
	central := newFakeCentral()
	central.serviceChars = serviceChars()
	i := newTestInitiator(central)
	i.connectTimeout = 20 * time.Millisecond

	i.Connect("aa:bb")
	i.PeerConnected("aa:bb", "Camp")

	time.Sleep(60 * time.Millisecond)
	if got := len(central.disconnectTargets()); got != 0 {
		t.Errorf("Expected no disconnect after a successful connect, got %d", got)
	}
	if !i.CanSend() {
		t.Error("Expected link to stay usable")
	}
}

func TestInitiatorResolvesExpectedCharacteristics(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	if len(central.subscribed) != 1 {
		t.Fatalf("Expected 1 notify subscription, got %d", len(central.subscribed))
	}
	if central.subscribed[0].UUID != NotifyCharUUID {
		t.Errorf("Expected subscription to the notify characteristic, got '%s'", central.subscribed[0].UUID)
	}
}

func TestInitiatorCharacteristicFallback(t *testing.T) {
	// A peer exposing the service with unexpected characteristic UUIDs is
	// still usable through the first writable and first notifiable ones.
	central := newFakeCentral()
	central.serviceChars = []Characteristic{
		{UUID: "0000aaaa", Handle: "/dev0/char0", Flags: []string{"read"}},
		{UUID: "0000bbbb", Handle: "/dev0/char1", Flags: []string{"write-without-response"}},
		{UUID: "0000cccc", Handle: "/dev0/char2", Flags: []string{"indicate"}},
	}
	i := newTestInitiator(central)

	i.Connect("aa:bb")
	i.PeerConnected("aa:bb", "Odd")

	if !i.CanSend() {
		t.Fatal("Expected fallback resolution to yield a usable link")
	}
	if len(central.subscribed) != 1 || central.subscribed[0].UUID != "0000cccc" {
		t.Error("Expected subscription to the first notifiable characteristic")
	}
}

func TestInitiatorSendWithoutLink(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)

	if err := i.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if got := central.writeCount(); got != 0 {
		t.Errorf("Expected nothing written without a link, got %d writes", got)
	}
	if got := len(i.Messages()); got != 0 {
		t.Errorf("Expected no self-tagged entry for a failed send, got %d", got)
	}
}

func TestInitiatorSendWritesFrameAndEchoes(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	if err := i.Send("help"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	writes := central.writtenPayloads()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 write, got %d", len(writes))
	}
	f := DecodeFrame(writes[0])
	if f == nil {
		t.Fatal("Expected the written payload to decode as a frame")
	}
	if f.From != "local-device" || f.Text != "help" {
		t.Errorf("Expected frame from 'local-device' with text 'help', got '%s'/'%s'", f.From, f.Text)
	}

	msgs := i.Messages()
	if len(msgs) != 1 || msgs[0] != "me: help" {
		t.Errorf("Expected exactly one self-tagged entry, got %v", msgs)
	}

	// The write characteristic supports acknowledged writes here.
	central.mu.Lock()
	withResponse := central.writes[0].withResponse
	central.mu.Unlock()
	if !withResponse {
		t.Error("Expected an acknowledged write on a write-capable characteristic")
	}
}

func TestInitiatorSelfEchoDiscarded(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	own, err := EncodeFrame(NewFrame("local-device", "my own words", location.None{}))
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	i.ValueUpdated(NotifyCharUUID, own)

	if got := len(i.Messages()); got != 0 {
		t.Errorf("Expected a reflected own frame to be discarded, got %v", i.Messages())
	}
}

func TestInitiatorInboundFrameAppended(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	peer, err := EncodeFrame(NewFrame("remote-device", "water at north gate", location.None{}))
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	i.ValueUpdated(NotifyCharUUID, peer)

	msgs := i.Messages()
	if len(msgs) != 1 || msgs[0] != "peer: water at north gate" {
		t.Errorf("Expected one peer-tagged entry, got %v", msgs)
	}
}

func TestInitiatorInboundRawTextFallback(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	i.ValueUpdated(NotifyCharUUID, []byte("not a frame"))

	msgs := i.Messages()
	if len(msgs) != 1 || msgs[0] != "peer: not a frame" {
		t.Errorf("Expected raw text to be appended peer-tagged, got %v", msgs)
	}

	// Bytes that are neither a frame nor UTF-8 are dropped.
	i.ValueUpdated(NotifyCharUUID, []byte{0xff, 0xfe, 0x01})
	if got := len(i.Messages()); got != 1 {
		t.Errorf("Expected undecodable bytes to be dropped, got %d entries", got)
	}
}

func TestInitiatorDisconnectClearsLink(t *testing.T) {
	central := newFakeCentral()
	i := newTestInitiator(central)
	connectInitiator(t, i, central, "aa:bb", "Camp")

	var nameChanges []string
	i.onPeerNameChanged = func(name string) { nameChanges = append(nameChanges, name) }

	i.PeerDisconnected("aa:bb")

	if i.CanSend() {
		t.Error("Expected no usable link after disconnect")
	}
	if i.ConnectedPeerName() != "" {
		t.Errorf("Expected no connected-peer name, got '%s'", i.ConnectedPeerName())
	}
	if len(nameChanges) != 1 || nameChanges[0] != "" {
		t.Errorf("Expected one empty-name transition, got %v", nameChanges)
	}

	// A stale disconnect for a different peer is ignored.
	connectInitiator(t, i, central, "cc:dd", "Relay")
	i.PeerDisconnected("aa:bb")
	if !i.CanSend() {
		t.Error("Expected a stale disconnect to leave the current link intact")
	}
}
