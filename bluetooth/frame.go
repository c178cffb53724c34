package bluetooth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Saintenr/dis4ster-shr3k/location"
)

// FrameVersion is the current protocol version. The version is never
// serialized, so every decoded frame reports this value.
const FrameVersion = 1

// Frame is one application-level message unit on the wire.
//
// From carries the sender's stable per-installation identity and exists
// solely so a device can discard its own frames reflected back by a peer.
// The three location fields are meaningful only when HasLocation is set.
type Frame struct {
	Version     int
	From        string
	Text        string
	Timestamp   float64
	Lat         float64
	Lon         float64
	Acc         float64
	HasLocation bool
}

// wireFrame is the fixed JSON schema: keys from, text, ts, lat, lon, acc.
// No version key exists on the wire.
type wireFrame struct {
	From *string  `json:"from"`
	Text *string  `json:"text"`
	Ts   *float64 `json:"ts"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	Acc  *float64 `json:"acc,omitempty"`
}

// NewFrame builds an outbound frame stamped with the current time,
// embedding the provider's coordinate snapshot when one is available.
func NewFrame(identity, text string, loc location.Provider) Frame {
	f := Frame{
		Version:   FrameVersion,
		From:      identity,
		Text:      text,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	if loc != nil {
		if lat, lon, acc, ok := loc.CurrentCoordinate(); ok {
			f.Lat, f.Lon, f.Acc = lat, lon, acc
			f.HasLocation = true
		}
	}
	return f
}

// EncodeFrame serializes f as a compact JSON record. It fails whole, never
// partially: a frame without a sender identity is not encodable.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.From == "" {
		return nil, fmt.Errorf("encode frame: empty sender identity")
	}
	w := wireFrame{From: &f.From, Text: &f.Text, Ts: &f.Timestamp}
	if f.HasLocation {
		w.Lat, w.Lon, w.Acc = &f.Lat, &f.Lon, &f.Acc
	}
	return json.Marshal(w)
}

// DecodeFrame parses data as a frame, returning nil on any malformed or
// truncated input. Decoding is forward-tolerant: the version is not part
// of the wire schema and always comes back as FrameVersion. The location
// fields are all-or-nothing; a record carrying only some of them decodes
// as having no location.
func DecodeFrame(data []byte) *Frame {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	if w.From == nil || *w.From == "" || w.Text == nil || w.Ts == nil {
		return nil
	}
	f := &Frame{
		Version:   FrameVersion,
		From:      *w.From,
		Text:      *w.Text,
		Timestamp: *w.Ts,
	}
	if w.Lat != nil && w.Lon != nil && w.Acc != nil {
		f.Lat, f.Lon, f.Acc = *w.Lat, *w.Lon, *w.Acc
		f.HasLocation = true
	}
	return f
}

// FormatLine renders f as a one-line human-readable log string, with a
// trailing location suffix when the frame carries one.
func FormatLine(f Frame) string {
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * 1e9)
	line := fmt.Sprintf("[%s] %s", time.Unix(sec, nsec).Format("15:04:05"), f.Text)
	if f.HasLocation {
		line += fmt.Sprintf(" @%.5f,%.5f ±%.0fm", f.Lat, f.Lon, f.Acc)
	}
	return line
}
