package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Reason is a machine-readable defect code.
type Reason string

const (
	ReasonNotASequence   Reason = "not_a_sequence"
	ReasonNotAnObject    Reason = "not_an_object"
	ReasonMissingName    Reason = "missing_name"
	ReasonMissingSummary Reason = "missing_summary"
	ReasonBadCoordinate  Reason = "non_numeric_coordinate"
	ReasonLatRange       Reason = "latitude_out_of_range"
	ReasonLngRange       Reason = "longitude_out_of_range"
	ReasonBadCauses      Reason = "causes_not_strings"
	ReasonDuplicateKey   Reason = "duplicate_identity"
)

// Defect describes one validation failure. Index is the position of the
// offending element in the uploaded document; -1 means the document itself.
type Defect struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// ValidationError carries every defect found in an upload, in input order
// and not deduplicated, so the caller can present all problems at once.
type ValidationError struct {
	Defects []Defect `json:"defects"`
}

func (e *ValidationError) Error() string {
	if len(e.Defects) == 1 {
		return fmt.Sprintf("dataset rejected: %s", e.Defects[0].Message)
	}
	return fmt.Sprintf("dataset rejected: %d defects", len(e.Defects))
}

var validate = validator.New()

// rawRecord is the loosely-typed shape an element is decoded into before
// field-level checks, so a single bad field yields a defect instead of
// failing the whole decode.
type rawRecord struct {
	Name           *string         `json:"name"`
	Coordinates    *rawCoordinates `json:"coordinates"`
	TrafficSummary *string         `json:"trafficSummary"`
	Causes         json.RawMessage `json:"causes"`
	Sentiment      string          `json:"sentiment"`
	Priority       string          `json:"priority"`
}

type rawCoordinates struct {
	Lat json.RawMessage `json:"lat"`
	Lng json.RawMessage `json:"lng"`
}

// recordRules holds the fields checked declaratively.
type recordRules struct {
	Name string  `validate:"required"`
	Lat  float64 `validate:"gte=-90,lte=90"`
	Lng  float64 `validate:"gte=-180,lte=180"`
}

// Validate checks a raw uploaded document against the location-record
// contract. Validation is all-or-nothing: any defect rejects the whole
// upload and the previously active dataset must stay displayed unchanged.
func Validate(raw []byte) (Dataset, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &ValidationError{Defects: []Defect{{
			Index:   -1,
			Reason:  ReasonNotASequence,
			Message: "document must be a JSON array of location records",
		}}}
	}

	var (
		defects []Defect
		records = make(Dataset, 0, len(elements))
		seen    = make(map[Key]int, len(elements))
	)

	for i, element := range elements {
		rec, ds := validateElement(i, element)
		if len(ds) > 0 {
			defects = append(defects, ds...)
			continue
		}

		key := rec.Key()
		if first, dup := seen[key]; dup {
			defects = append(defects, Defect{
				Index:   i,
				Reason:  ReasonDuplicateKey,
				Message: fmt.Sprintf("duplicate identity %q, first seen at index %d", key, first),
			})
			continue
		}
		seen[key] = i
		records = append(records, rec)
	}

	if len(defects) > 0 {
		return nil, &ValidationError{Defects: defects}
	}
	return records, nil
}

func validateElement(index int, element json.RawMessage) (LocationRecord, []Defect) {
	var raw rawRecord
	if err := json.Unmarshal(element, &raw); err != nil {
		return LocationRecord{}, []Defect{elementDefect(index, err)}
	}

	var defects []Defect

	rules := recordRules{}
	if raw.Name != nil {
		rules.Name = strings.TrimSpace(*raw.Name)
	}

	if raw.Coordinates == nil {
		defects = append(defects, Defect{
			Index:   index,
			Field:   "coordinates",
			Reason:  ReasonBadCoordinate,
			Message: "coordinates object is required",
		})
	} else {
		lat, err := decodeCoordinate(raw.Coordinates.Lat)
		if err != nil {
			defects = append(defects, Defect{
				Index:   index,
				Field:   "coordinates.lat",
				Reason:  ReasonBadCoordinate,
				Message: "latitude must be a number",
			})
		}
		lng, err := decodeCoordinate(raw.Coordinates.Lng)
		if err != nil {
			defects = append(defects, Defect{
				Index:   index,
				Field:   "coordinates.lng",
				Reason:  ReasonBadCoordinate,
				Message: "longitude must be a number",
			})
		}
		rules.Lat, rules.Lng = lat, lng
	}

	if raw.TrafficSummary == nil {
		defects = append(defects, Defect{
			Index:   index,
			Field:   "trafficSummary",
			Reason:  ReasonMissingSummary,
			Message: "trafficSummary is required",
		})
	}

	// Absent causes means empty, not a defect.
	var causes []string
	if len(raw.Causes) > 0 && string(raw.Causes) != "null" {
		if err := json.Unmarshal(raw.Causes, &causes); err != nil {
			defects = append(defects, Defect{
				Index:   index,
				Field:   "causes",
				Reason:  ReasonBadCauses,
				Message: "causes must be an array of strings",
			})
		}
	}

	if err := validate.Struct(rules); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				defects = append(defects, ruleDefect(index, fe))
			}
		} else {
			defects = append(defects, Defect{
				Index:   index,
				Reason:  ReasonNotAnObject,
				Message: err.Error(),
			})
		}
	}

	if len(defects) > 0 {
		return LocationRecord{}, defects
	}

	rec := LocationRecord{
		Name:           strings.TrimSpace(*raw.Name),
		Coordinates:    Coordinates{Lat: rules.Lat, Lng: rules.Lng},
		TrafficSummary: *raw.TrafficSummary,
		Causes:         causes,
		Sentiment:      raw.Sentiment,
		Priority:       raw.Priority,
	}
	return rec, nil
}

func ruleDefect(index int, fe validator.FieldError) Defect {
	switch fe.Field() {
	case "Name":
		return Defect{Index: index, Field: "name", Reason: ReasonMissingName,
			Message: "name must be a non-empty string"}
	case "Lat":
		return Defect{Index: index, Field: "coordinates.lat", Reason: ReasonLatRange,
			Message: "latitude must be within [-90, 90]"}
	case "Lng":
		return Defect{Index: index, Field: "coordinates.lng", Reason: ReasonLngRange,
			Message: "longitude must be within [-180, 180]"}
	default:
		return Defect{Index: index, Field: fe.Field(), Reason: ReasonNotAnObject,
			Message: fe.Error()}
	}
}

func elementDefect(index int, err error) Defect {
	d := Defect{
		Index:   index,
		Reason:  ReasonNotAnObject,
		Message: "element must be a location record object",
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		d.Field = typeErr.Field
		d.Message = fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	return d
}

func decodeCoordinate(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("coordinate missing")
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
