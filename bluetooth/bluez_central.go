package bluetooth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// BluezCentral implements Central against BlueZ over the system D-Bus.
// Discovery results are polled from the ObjectManager while a scan is
// active; characteristic notifications and device disconnects arrive as
// PropertiesChanged signals on a single pump goroutine. Every observer
// call is re-dispatched onto the coordination queue.
type BluezCentral struct {
	conn     *dbus.Conn
	adapter  dbus.ObjectPath
	log      zerolog.Logger
	dispatch func(func())
	observer CentralObserver

	mu            sync.Mutex
	scanning      bool
	scanStop      chan struct{}
	charUUIDs     map[dbus.ObjectPath]string // subscribed char path -> UUID
	connectedPath dbus.ObjectPath
	connectedID   string
	matchRules    []string

	sigChan  chan *dbus.Signal
	stopChan chan struct{}
}

func NewBluezCentral(adapterName string, dispatch func(func()), log zerolog.Logger) (*BluezCentral, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system D-Bus: %w", err)
	}
	b := &BluezCentral{
		conn:      conn,
		adapter:   adapterPath(adapterName),
		log:       log,
		dispatch:  dispatch,
		charUUIDs: make(map[dbus.ObjectPath]string),
		sigChan:   make(chan *dbus.Signal, 128),
		stopChan:  make(chan struct{}),
	}
	conn.Signal(b.sigChan)
	go b.signalPump()
	return b, nil
}

// SetObserver installs the event sink. Must be called before StartScan or
// Connect.
func (b *BluezCentral) SetObserver(o CentralObserver) {
	b.mu.Lock()
	b.observer = o
	b.mu.Unlock()
}

func (b *BluezCentral) Close() {
	close(b.stopChan)
	b.conn.RemoveSignal(b.sigChan)
}

func (b *BluezCentral) Powered() bool {
	obj := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	var powered bool
	if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, BLUEZ_ADAPTER_INTERFACE, "Powered").Store(&powered); err != nil {
		return false
	}
	return powered
}

func (b *BluezCentral) StartScan(serviceFilter string) error {
	adapter := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)

	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": true,
	}
	if serviceFilter != "" {
		filter["UUIDs"] = []string{serviceFilter}
	}
	if err := adapter.Call("org.bluez.Adapter1.SetDiscoveryFilter", 0, filter).Err; err != nil {
		// Some adapters reject filters entirely; scan unfiltered.
		b.log.Debug().Err(err).Msg("discovery filter rejected")
	}

	if err := adapter.Call("org.bluez.Adapter1.StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = true
	b.scanStop = make(chan struct{})
	stop := b.scanStop
	b.mu.Unlock()

	go b.pollDiscoveredDevices(stop)
	return nil
}

func (b *BluezCentral) StopScan() error {
	b.mu.Lock()
	if !b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = false
	close(b.scanStop)
	b.mu.Unlock()

	adapter := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	if err := adapter.Call("org.bluez.Adapter1.StopDiscovery", 0).Err; err != nil {
		return fmt.Errorf("stop discovery: %w", err)
	}
	return nil
}

// pollDiscoveredDevices walks the ObjectManager once a second while the
// scan is active, reporting every device under the adapter as an
// advertisement sighting.
func (b *BluezCentral) pollDiscoveredDevices(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-b.stopChan:
			return
		case <-ticker.C:
			objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
			obj := b.conn.Object(BLUEZ_BUS_NAME, "/")
			if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
				b.log.Debug().Err(err).Msg("managed objects fetch failed during scan")
				continue
			}
			for path, interfaces := range objects {
				if !strings.HasPrefix(string(path), string(b.adapter)+"/dev_") {
					continue
				}
				dev, ok := interfaces[BLUEZ_DEVICE_INTERFACE]
				if !ok {
					continue
				}
				address := variantString(dev, "Address")
				if address == "" {
					continue
				}
				adv := Advertisement{
					PeerID:       address,
					Name:         variantString(dev, "Name"),
					RSSI:         variantInt16(dev, "RSSI"),
					ServiceUUIDs: variantStrings(dev, "UUIDs"),
				}
				b.emit(func(o CentralObserver) { o.AdvertisementSeen(adv) })
			}
		}
	}
}

// Connect initiates the GATT connection and returns immediately; link
// establishment progresses on a background goroutine and lands as a
// PeerConnected or PeerDisconnected observer event.
func (b *BluezCentral) Connect(peerID string) error {
	devicePath := formatDevicePath(b.adapter, peerID)

	go func() {
		obj := b.conn.Object(BLUEZ_BUS_NAME, devicePath)
		if err := obj.Call("org.bluez.Device1.Connect", 0).Err; err != nil {
			if !strings.Contains(err.Error(), "InProgress") {
				b.log.Warn().Err(err).Str("peer", peerID).Msg("device connect failed")
				return
			}
		}

		// Wait for the link and service resolution; the initiator's own
		// connect timeout bounds the overall attempt.
		for attempt := 0; attempt < 10; attempt++ {
			var resolved bool
			err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, BLUEZ_DEVICE_INTERFACE, "ServicesResolved").Store(&resolved)
			if err == nil && resolved {
				var props map[string]dbus.Variant
				name := peerID
				if err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, BLUEZ_DEVICE_INTERFACE).Store(&props); err == nil {
					if n := variantString(props, "Name"); n != "" {
						name = n
					}
				}
				b.mu.Lock()
				b.connectedPath = devicePath
				b.connectedID = peerID
				b.mu.Unlock()
				b.addMatchRule(fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", devicePath))
				b.emit(func(o CentralObserver) { o.PeerConnected(peerID, name) })
				return
			}
			time.Sleep(1 * time.Second)
		}
		b.log.Warn().Str("peer", peerID).Msg("services never resolved")
	}()

	return nil
}

func (b *BluezCentral) Disconnect(peerID string) error {
	devicePath := formatDevicePath(b.adapter, peerID)
	obj := b.conn.Object(BLUEZ_BUS_NAME, devicePath)
	if err := obj.Call("org.bluez.Device1.Disconnect", 0).Err; err != nil {
		return fmt.Errorf("disconnect %s: %w", peerID, err)
	}
	return nil
}

// Characteristics lists the characteristics under the peer's matching
// service, or under every service when serviceUUID is empty.
func (b *BluezCentral) Characteristics(peerID, serviceUUID string) ([]Characteristic, error) {
	devicePath := formatDevicePath(b.adapter, peerID)

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := b.conn.Object(BLUEZ_BUS_NAME, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	servicePaths := make(map[string]bool)
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), string(devicePath)+"/service") {
			continue
		}
		svc, ok := interfaces[BLUEZ_GATT_SERVICE]
		if !ok {
			continue
		}
		uuid := variantString(svc, "UUID")
		if serviceUUID == "" || strings.EqualFold(uuid, serviceUUID) {
			servicePaths[string(path)] = true
		}
	}

	var chars []Characteristic
	for path, interfaces := range objects {
		ch, ok := interfaces[BLUEZ_GATT_CHARACTERISTIC]
		if !ok {
			continue
		}
		pathStr := string(path)
		idx := strings.LastIndex(pathStr, "/char")
		if idx < 0 || !servicePaths[pathStr[:idx]] {
			continue
		}
		chars = append(chars, Characteristic{
			UUID:   variantString(ch, "UUID"),
			Handle: pathStr,
			Flags:  variantStrings(ch, "Flags"),
		})
	}
	return chars, nil
}

func (b *BluezCentral) Write(ch Characteristic, data []byte, withResponse bool) error {
	writeType := "command"
	if withResponse {
		writeType = "request"
	}
	obj := b.conn.Object(BLUEZ_BUS_NAME, dbus.ObjectPath(ch.Handle))
	options := map[string]interface{}{"type": writeType}
	if err := obj.Call("org.bluez.GattCharacteristic1.WriteValue", 0, data, options).Err; err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	return nil
}

func (b *BluezCentral) Subscribe(ch Characteristic) error {
	path := dbus.ObjectPath(ch.Handle)
	obj := b.conn.Object(BLUEZ_BUS_NAME, path)
	if err := obj.Call("org.bluez.GattCharacteristic1.StartNotify", 0).Err; err != nil {
		return fmt.Errorf("start notify: %w", err)
	}
	b.mu.Lock()
	b.charUUIDs[path] = ch.UUID
	b.mu.Unlock()
	b.addMatchRule(fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", path))
	return nil
}

func (b *BluezCentral) addMatchRule(rule string) {
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		b.log.Warn().Err(err).Msg("add match rule failed")
		return
	}
	b.mu.Lock()
	b.matchRules = append(b.matchRules, rule)
	b.mu.Unlock()
}

// signalPump routes PropertiesChanged signals: characteristic value
// updates become ValueUpdated events, a device Connected=false becomes
// PeerDisconnected.
func (b *BluezCentral) signalPump() {
	for {
		select {
		case <-b.stopChan:
			return
		case sig := <-b.sigChan:
			if sig == nil || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}

			b.mu.Lock()
			charUUID, isChar := b.charUUIDs[sig.Path]
			isDevice := sig.Path == b.connectedPath
			peerID := b.connectedID
			b.mu.Unlock()

			if isChar {
				if v, exists := changed["Value"]; exists {
					if value, ok := v.Value().([]byte); ok {
						b.emit(func(o CentralObserver) { o.ValueUpdated(charUUID, value) })
					}
				}
			}
			if isDevice {
				if v, exists := changed["Connected"]; exists {
					if connected, ok := v.Value().(bool); ok && !connected {
						b.mu.Lock()
						b.connectedPath = ""
						b.connectedID = ""
						b.mu.Unlock()
						b.emit(func(o CentralObserver) { o.PeerDisconnected(peerID) })
					}
				}
			}
		}
	}
}

func (b *BluezCentral) emit(fn func(CentralObserver)) {
	b.mu.Lock()
	o := b.observer
	b.mu.Unlock()
	if o == nil {
		return
	}
	b.dispatch(func() { fn(o) })
}
