package bluetooth

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// formatDevicePath builds the BlueZ object path for a device address
// under the given adapter.
func formatDevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(address, ":", "_"))
}

// adapterPath builds the BlueZ object path for a named adapter (hci0 and
// friends).
func adapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(BLUEZ_OBJECT_PATH + "/" + name)
}

func variantString(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func variantBool(props map[string]dbus.Variant, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func variantInt16(props map[string]dbus.Variant, key string) int16 {
	if v, ok := props[key]; ok {
		if n, ok := v.Value().(int16); ok {
			return n
		}
	}
	return 0
}

func variantStrings(props map[string]dbus.Variant, key string) []string {
	if v, ok := props[key]; ok {
		if ss, ok := v.Value().([]string); ok {
			return ss
		}
	}
	return nil
}
