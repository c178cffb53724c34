package bluetooth

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	appObjectPath    = dbus.ObjectPath("/com/dis4ster/app")
	svcObjectPath    = dbus.ObjectPath("/com/dis4ster/app/service0")
	writeObjectPath  = dbus.ObjectPath("/com/dis4ster/app/service0/char0")
	notifyObjectPath = dbus.ObjectPath("/com/dis4ster/app/service0/char1")
	advObjectPath    = dbus.ObjectPath("/com/dis4ster/advertisement0")
)

// BluezPeripheral implements Peripheral by exporting a GATT application
// (one service, one writable characteristic, one notifiable
// characteristic) and an LE advertisement onto the system bus and
// registering both with BlueZ. Subscribers are tracked through
// StartNotify/StopNotify; notifications go out as PropertiesChanged
// emissions on the notify characteristic.
type BluezPeripheral struct {
	conn     *dbus.Conn
	adapter  dbus.ObjectPath
	log      zerolog.Logger
	dispatch func(func())
	observer PeripheralObserver

	mu          sync.Mutex
	serviceUp   bool
	advertising bool
	localName   string
	subscribers map[string]struct{}
	mtus        map[string]int
}

func NewBluezPeripheral(adapterName string, dispatch func(func()), log zerolog.Logger) (*BluezPeripheral, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system D-Bus: %w", err)
	}
	return &BluezPeripheral{
		conn:        conn,
		adapter:     adapterPath(adapterName),
		log:         log,
		dispatch:    dispatch,
		subscribers: make(map[string]struct{}),
		mtus:        make(map[string]int),
	}, nil
}

// SetObserver installs the event sink. Must be called before
// EnsureService.
func (b *BluezPeripheral) SetObserver(o PeripheralObserver) {
	b.mu.Lock()
	b.observer = o
	b.mu.Unlock()
}

func (b *BluezPeripheral) Powered() bool {
	obj := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	var powered bool
	if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, BLUEZ_ADAPTER_INTERFACE, "Powered").Store(&powered); err != nil {
		return false
	}
	return powered
}

// EnsureService exports the GATT object tree and registers it with the
// adapter's GattManager1. Idempotent.
func (b *BluezPeripheral) EnsureService() error {
	b.mu.Lock()
	if b.serviceUp {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.exportObjects(); err != nil {
		return err
	}

	manager := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	call := manager.Call(BLUEZ_GATT_MANAGER+".RegisterApplication", 0, appObjectPath, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("register gatt application: %w", call.Err)
	}

	b.mu.Lock()
	b.serviceUp = true
	b.mu.Unlock()
	b.log.Info().Str("service", ServiceUUID).Msg("gatt application registered")
	return nil
}

// exportObjects puts the ObjectManager, the service, and both
// characteristics on the bus. BlueZ reads the tree through
// GetManagedObjects during RegisterApplication.
func (b *BluezPeripheral) exportObjects() error {
	if err := b.conn.Export(b, appObjectPath, "org.freedesktop.DBus.ObjectManager"); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}
	writeChar := &localCharacteristic{parent: b, uuid: WriteCharUUID, flags: []string{"write", "write-without-response"}}
	notifyChar := &localCharacteristic{parent: b, uuid: NotifyCharUUID, flags: []string{"notify"}, isNotify: true}
	if err := b.conn.Export(writeChar, writeObjectPath, BLUEZ_GATT_CHARACTERISTIC); err != nil {
		return fmt.Errorf("export write characteristic: %w", err)
	}
	if err := b.conn.Export(notifyChar, notifyObjectPath, BLUEZ_GATT_CHARACTERISTIC); err != nil {
		return fmt.Errorf("export notify characteristic: %w", err)
	}
	return nil
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// exported GATT application tree.
func (b *BluezPeripheral) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		svcObjectPath: {
			BLUEZ_GATT_SERVICE: {
				"UUID":    dbus.MakeVariant(ServiceUUID),
				"Primary": dbus.MakeVariant(true),
			},
		},
		writeObjectPath: {
			BLUEZ_GATT_CHARACTERISTIC: {
				"UUID":    dbus.MakeVariant(WriteCharUUID),
				"Service": dbus.MakeVariant(svcObjectPath),
				"Flags":   dbus.MakeVariant([]string{"write", "write-without-response"}),
			},
		},
		notifyObjectPath: {
			BLUEZ_GATT_CHARACTERISTIC: {
				"UUID":    dbus.MakeVariant(NotifyCharUUID),
				"Service": dbus.MakeVariant(svcObjectPath),
				"Flags":   dbus.MakeVariant([]string{"notify"}),
			},
		},
	}
	return objects, nil
}

func (b *BluezPeripheral) StartAdvertising(localName, serviceUUID string) error {
	b.mu.Lock()
	if b.advertising {
		b.mu.Unlock()
		return nil
	}
	b.localName = localName
	b.mu.Unlock()

	adv := &localAdvertisement{name: localName, serviceUUID: serviceUUID}
	if err := b.conn.Export(adv, advObjectPath, BLUEZ_ADVERTISEMENT); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}
	if err := b.conn.Export(adv, advObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}

	manager := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	call := manager.Call(BLUEZ_ADVERTISING_MANAGER+".RegisterAdvertisement", 0, advObjectPath, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("register advertisement: %w", call.Err)
	}

	b.mu.Lock()
	b.advertising = true
	b.mu.Unlock()
	return nil
}

func (b *BluezPeripheral) StopAdvertising() error {
	b.mu.Lock()
	if !b.advertising {
		b.mu.Unlock()
		return nil
	}
	b.advertising = false
	b.mu.Unlock()

	manager := b.conn.Object(BLUEZ_BUS_NAME, b.adapter)
	if err := manager.Call(BLUEZ_ADVERTISING_MANAGER+".UnregisterAdvertisement", 0, advObjectPath).Err; err != nil {
		return fmt.Errorf("unregister advertisement: %w", err)
	}
	return nil
}

// Notify pushes data to a subscriber by updating the notify
// characteristic's Value and emitting PropertiesChanged, which BlueZ
// relays as a GATT notification.
func (b *BluezPeripheral) Notify(subscriberID string, data []byte) error {
	err := b.conn.Emit(notifyObjectPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		BLUEZ_GATT_CHARACTERISTIC,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(data)},
		[]string{})
	if err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	return nil
}

// TransferLimit reports the usable notification payload for a subscriber,
// derived from the MTU BlueZ handed us with its writes (ATT header costs
// 3 bytes). Zero when the MTU is unknown.
func (b *BluezPeripheral) TransferLimit(subscriberID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mtu, ok := b.mtus[subscriberID]; ok && mtu > 3 {
		return mtu - 3
	}
	return 0
}

// AckWrite is satisfied by returning from WriteValue without error; the
// D-Bus method reply is the protocol ack.
func (b *BluezPeripheral) AckWrite(subscriberID string) {}

func (b *BluezPeripheral) emit(fn func(PeripheralObserver)) {
	b.mu.Lock()
	o := b.observer
	b.mu.Unlock()
	if o == nil {
		return
	}
	b.dispatch(func() { fn(o) })
}

// subscriberFromOptions extracts the writing/subscribing device from
// BlueZ method options, falling back to a fixed handle when absent.
func subscriberFromOptions(options map[string]dbus.Variant) string {
	if v, ok := options["device"]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			return string(p)
		}
	}
	return "central"
}

// localCharacteristic is one exported GATT characteristic.
type localCharacteristic struct {
	parent   *BluezPeripheral
	uuid     string
	flags    []string
	isNotify bool
}

// WriteValue handles an inbound GATT write. The method reply is the
// unconditional protocol-level ack; payload interpretation happens after
// dispatch and cannot fail the write.
func (c *localCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	sub := subscriberFromOptions(options)
	if v, ok := options["mtu"]; ok {
		if mtu, ok := v.Value().(uint16); ok {
			c.parent.mu.Lock()
			c.parent.mtus[sub] = int(mtu)
			// Notify subscriptions are tracked under the fixed handle, so
			// the limit must be reachable through it as well.
			c.parent.mtus["central"] = int(mtu)
			c.parent.mu.Unlock()
		}
	}
	data := make([]byte, len(value))
	copy(data, value)
	c.parent.emit(func(o PeripheralObserver) { o.WriteReceived(sub, data) })
	return nil
}

// ReadValue exists because some stacks probe readability; the notify
// characteristic has no stable readable state.
func (c *localCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return nil, nil
}

func (c *localCharacteristic) StartNotify() *dbus.Error {
	if c.isNotify {
		c.parent.mu.Lock()
		c.parent.subscribers["central"] = struct{}{}
		c.parent.mu.Unlock()
		c.parent.emit(func(o PeripheralObserver) { o.SubscriberJoined("central") })
	}
	return nil
}

func (c *localCharacteristic) StopNotify() *dbus.Error {
	if c.isNotify {
		c.parent.mu.Lock()
		delete(c.parent.subscribers, "central")
		c.parent.mu.Unlock()
		c.parent.emit(func(o PeripheralObserver) { o.SubscriberLeft("central") })
	}
	return nil
}

// localAdvertisement is the exported LEAdvertisement1 object.
type localAdvertisement struct {
	name        string
	serviceUUID string
}

func (a *localAdvertisement) Release() *dbus.Error { return nil }

func (a *localAdvertisement) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{a.serviceUUID}),
		"LocalName":    dbus.MakeVariant(a.name),
	}
}

// Get and GetAll implement org.freedesktop.DBus.Properties for the
// advertisement, which BlueZ reads during registration.
func (a *localAdvertisement) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if v, ok := a.properties()[prop]; ok {
		return v, nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property %s", prop))
}

func (a *localAdvertisement) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return a.properties(), nil
}
