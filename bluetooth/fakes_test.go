package bluetooth

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// syncDispatch runs queued work inline, standing in for the coordination
// queue in role-level tests.
func syncDispatch(fn func()) { fn() }

func testLogger() zerolog.Logger { return zerolog.Nop() }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

type fakeWrite struct {
	char         Characteristic
	data         []byte
	withResponse bool
}

type fakeCentral struct {
	mu           sync.Mutex
	powered      bool
	scanning     bool
	scanFilters  []string
	connectErr   error
	writeErr     error
	serviceChars []Characteristic
	allChars     []Characteristic
	connects     []string
	disconnects  []string
	writes       []fakeWrite
	subscribed   []Characteristic
}

func newFakeCentral() *fakeCentral { return &fakeCentral{powered: true} }

func (f *fakeCentral) Powered() bool { return f.powered }

func (f *fakeCentral) StartScan(serviceFilter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = true
	f.scanFilters = append(f.scanFilters, serviceFilter)
	return nil
}

func (f *fakeCentral) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = false
	return nil
}

func (f *fakeCentral) Connect(peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects = append(f.connects, peerID)
	return nil
}

func (f *fakeCentral) Disconnect(peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, peerID)
	return nil
}

func (f *fakeCentral) Characteristics(peerID, serviceUUID string) ([]Characteristic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if serviceUUID != "" {
		return f.serviceChars, nil
	}
	return f.allChars, nil
}

func (f *fakeCentral) Write(ch Characteristic, data []byte, withResponse bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, fakeWrite{char: ch, data: cp, withResponse: withResponse})
	return nil
}

func (f *fakeCentral) Subscribe(ch Characteristic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, ch)
	return nil
}

func (f *fakeCentral) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeCentral) writtenPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.data
	}
	return out
}

func (f *fakeCentral) connectTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

func (f *fakeCentral) disconnectTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

type fakePeripheral struct {
	mu            sync.Mutex
	powered       bool
	ensureErr     error
	advertiseErr  error
	ensureCalls   int
	advertising   bool
	advName       string
	advUUID       string
	startAdvCalls int
	stopAdvCalls  int
	limit         int
	attempts      int
	failAt        map[int]error // 1-based notify attempt -> error, consumed once
	delivered     [][]byte
	acks          []string
}

func newFakePeripheral() *fakePeripheral {
	return &fakePeripheral{powered: true, failAt: make(map[int]error)}
}

func (f *fakePeripheral) Powered() bool { return f.powered }

func (f *fakePeripheral) EnsureService() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakePeripheral) StartAdvertising(localName, serviceUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advertiseErr != nil {
		return f.advertiseErr
	}
	f.advertising = true
	f.advName = localName
	f.advUUID = serviceUUID
	f.startAdvCalls++
	return nil
}

func (f *fakePeripheral) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = false
	f.stopAdvCalls++
	return nil
}

func (f *fakePeripheral) Notify(subscriberID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if err, ok := f.failAt[f.attempts]; ok {
		delete(f.failAt, f.attempts)
		return err
	}
	cp := append([]byte(nil), data...)
	f.delivered = append(f.delivered, cp)
	return nil
}

func (f *fakePeripheral) TransferLimit(subscriberID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakePeripheral) AckWrite(subscriberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, subscriberID)
}

func (f *fakePeripheral) deliveredChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.delivered))
	for i, d := range f.delivered {
		out[i] = d
	}
	return out
}

func (f *fakePeripheral) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func (f *fakePeripheral) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}
