package bluetooth

import "time"

const (
	BLUEZ_BUS_NAME            = "org.bluez"
	BLUEZ_ADAPTER_INTERFACE   = "org.bluez.Adapter1"
	BLUEZ_DEVICE_INTERFACE    = "org.bluez.Device1"
	BLUEZ_GATT_SERVICE        = "org.bluez.GattService1"
	BLUEZ_GATT_CHARACTERISTIC = "org.bluez.GattCharacteristic1"
	BLUEZ_GATT_MANAGER        = "org.bluez.GattManager1"
	BLUEZ_ADVERTISING_MANAGER = "org.bluez.LEAdvertisingManager1"
	BLUEZ_ADVERTISEMENT       = "org.bluez.LEAdvertisement1"
	BLUEZ_OBJECT_PATH         = "/org/bluez"
)

const (
	// Service and characteristic UUIDs; both sides of a link must agree.
	ServiceUUID    = "d1545731-a2c3-4ccd-a3e8-7e1322dcbe59"
	WriteCharUUID  = "d1545731-a2c3-4ccd-a3e8-7e1322dcbe60" // device -> peer
	NotifyCharUUID = "d1545731-a2c3-4ccd-a3e8-7e1322dcbe61" // peer -> device

	// LocalName is advertised alongside the service UUID and doubles as
	// the name-based discovery fallback on platforms that strip service
	// UUIDs from advertisements.
	LocalName = "Dis4sterShr3k"
)

const (
	// DefaultChunkSize is the conservative notify payload cap. Stays
	// under the 185-byte usable payload of a 188-byte LE data channel so
	// a chunk never straddles negotiated MTUs.
	DefaultChunkSize = 180

	DefaultScanDuration    = 12 * time.Second
	ConnectTimeout         = 10 * time.Second
	AutoConnectSafetyDelay = 4 * time.Second
	ChunkRetryDelay        = 200 * time.Millisecond

	MaxSessionLogEntries = 250
)

const (
	peerTag = "peer: "
	selfTag = "me: "

	// MarkerPrefix tags an application-level line as marker JSON rather
	// than chat text.
	MarkerPrefix = "MARKER:"
)
