// Package location exposes the device's best-known coordinate to the
// frame builder. Implementations are free to source it from GPS, a fixed
// operator-entered position, or nothing at all.
package location

// Provider reports the current best-known coordinate. All three values
// are meaningful only when ok is true; a frame built while ok is false
// carries no location fields.
type Provider interface {
	CurrentCoordinate() (lat, lon, acc float64, ok bool)
}

// Static always reports one fixed coordinate. Used when the operator
// pins the device position in config.
type Static struct {
	Lat float64
	Lon float64
	Acc float64
}

func (s Static) CurrentCoordinate() (float64, float64, float64, bool) {
	return s.Lat, s.Lon, s.Acc, true
}

// None reports no coordinate.
type None struct{}

func (None) CurrentCoordinate() (float64, float64, float64, bool) {
	return 0, 0, 0, false
}
