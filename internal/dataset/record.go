package dataset

import (
	"fmt"
	"slices"
	"strings"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationRecord is one traffic location as supplied by an uploaded document.
// Name, Coordinates and TrafficSummary are required; Causes may be empty.
// Sentiment and Priority are optional annotations produced by the upstream
// analysis pipeline and are carried through to the marker content verbatim.
type LocationRecord struct {
	Name           string      `json:"name"`
	Coordinates    Coordinates `json:"coordinates"`
	TrafficSummary string      `json:"trafficSummary"`
	Causes         []string    `json:"causes"`
	Sentiment      string      `json:"sentiment,omitempty"`
	Priority       string      `json:"priority,omitempty"`
}

// Key identifies one logical location across dataset replacements.
type Key string

// Key returns the identity key for the record: the lowercased, trimmed name
// combined with coordinates rounded to five decimal places (roughly one
// metre). Two records with the same key are the same logical location.
func (r LocationRecord) Key() Key {
	name := strings.ToLower(strings.TrimSpace(r.Name))
	return Key(fmt.Sprintf("%s@%.5f,%.5f", name, r.Coordinates.Lat, r.Coordinates.Lng))
}

// ContentEquals reports whether the mutable marker content of two records
// matches. Identity fields (name, coordinates) are not compared; records
// with different identities never reach this comparison.
func (r LocationRecord) ContentEquals(o LocationRecord) bool {
	return r.TrafficSummary == o.TrafficSummary &&
		slices.Equal(r.Causes, o.Causes) &&
		r.Sentiment == o.Sentiment &&
		r.Priority == o.Priority
}

// Dataset is the full validated collection of location records, in document
// order. A Dataset is immutable once validated and is replaced wholesale.
type Dataset []LocationRecord

// Keys returns the identity keys of the dataset in document order.
func (d Dataset) Keys() []Key {
	keys := make([]Key, 0, len(d))
	for _, rec := range d {
		keys = append(keys, rec.Key())
	}
	return keys
}
