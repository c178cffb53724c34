// Package marker holds the replicated point-of-interest records exchanged
// between peers and the stores that keep them.
package marker

import (
	"time"

	"github.com/google/uuid"
)

// Marker is one georeferenced point of interest. The ID is assigned at
// creation and never changes; it is the sole deduplication key when
// markers are replicated between devices.
type Marker struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Category  string  `json:"cat"`
	Note      string  `json:"note,omitempty"`
	CreatedAt float64 `json:"ts"`
}

// New creates a marker with a fresh id and the current creation time.
func New(lat, lon float64, category, note string) Marker {
	return Marker{
		ID:        uuid.NewString(),
		Lat:       lat,
		Lon:       lon,
		Category:  category,
		Note:      note,
		CreatedAt: float64(time.Now().UnixNano()) / 1e9,
	}
}

// Category describes one entry of the fixed marker category table.
type Category struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// Categories is the fixed category table shown in the annotation UI.
// Markers received from peers may carry tags outside this table; they are
// stored unchanged so devices with newer tables interoperate.
var Categories = []Category{
	{Tag: "sos", Label: "SOS", Icon: "exclamationmark.triangle.fill", Color: "red"},
	{Tag: "medical", Label: "Medical aid", Icon: "cross.case.fill", Color: "red"},
	{Tag: "injured", Label: "Injured person", Icon: "figure.fall", Color: "red"},
	{Tag: "trapped", Label: "Trapped person", Icon: "person.crop.circle.badge.exclamationmark", Color: "red"},
	{Tag: "fire", Label: "Fire", Icon: "flame.fill", Color: "orange"},
	{Tag: "flood", Label: "Flooding", Icon: "water.waves", Color: "blue"},
	{Tag: "collapse", Label: "Building collapse", Icon: "building.columns.fill", Color: "gray"},
	{Tag: "gasleak", Label: "Gas leak", Icon: "aqi.medium", Color: "yellow"},
	{Tag: "roadblock", Label: "Road blocked", Icon: "road.lanes", Color: "orange"},
	{Tag: "danger", Label: "Danger zone", Icon: "hand.raised.fill", Color: "orange"},
	{Tag: "water", Label: "Drinking water", Icon: "drop.fill", Color: "blue"},
	{Tag: "food", Label: "Food", Icon: "fork.knife", Color: "green"},
	{Tag: "shelter", Label: "Shelter", Icon: "house.fill", Color: "green"},
	{Tag: "supplies", Label: "Supplies", Icon: "shippingbox.fill", Color: "green"},
	{Tag: "meeting", Label: "Meeting point", Icon: "person.3.fill", Color: "purple"},
}

// KnownCategory reports whether tag is part of the fixed category table.
func KnownCategory(tag string) bool {
	for _, c := range Categories {
		if c.Tag == tag {
			return true
		}
	}
	return false
}
