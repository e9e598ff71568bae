package model

import (
	"crypto/sha1" //nolint:gosec // short request fingerprint, not security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ValueStatus is the outcome of a single provider attempt.
type ValueStatus string

const (
	StatusOK    ValueStatus = "OK"
	StatusError ValueStatus = "ERROR"
)

// Variable names the measured quantity.
type Variable string

const (
	VariableElevation Variable = "elevation"
)

// ProviderRef identifies a data source, never its credentials.
type ProviderRef struct {
	Name       string `json:"name" yaml:"name"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// Observation is one provider's answer (or failure) for one request.
type Observation struct {
	Variable            Variable    `json:"variable" yaml:"variable"`
	ValueNumeric        *float64    `json:"value_numeric" yaml:"value_numeric"`
	Status              ValueStatus `json:"value_status" yaml:"value_status"`
	Provider            ProviderRef `json:"provider" yaml:"provider"`
	RequestLocation     GeoPoint    `json:"request_location" yaml:"request_location"`
	MeasurementLocation *GeoPoint   `json:"measurement_location" yaml:"measurement_location"`
	DistanceToInputM    *float64    `json:"distance_to_input_m" yaml:"distance_to_input_m"`
	SpatialResolutionM  *float64    `json:"spatial_resolution_m" yaml:"spatial_resolution_m"`
	VerticalDatum       *string     `json:"vertical_datum" yaml:"vertical_datum"`
	Unit                string      `json:"unit_si" yaml:"unit_si"`
	RawPayloadHash      *string     `json:"raw_payload_sha256" yaml:"raw_payload_sha256"`
	RequestID           string      `json:"request_id" yaml:"request_id"`
	CacheUsed           bool        `json:"cache_used" yaml:"cache_used"`
	ErrorMessage        *string     `json:"error_message" yaml:"error_message"`
	CreatedAt           time.Time   `json:"created_at" yaml:"created_at"`
}

// OK reports whether the observation carries a usable value.
func (o Observation) OK() bool {
	return o.Status == StatusOK && o.ValueNumeric != nil
}

// RequestID returns a short stable fingerprint for a provider call.
func RequestID(provider string, lat, lon float64) string {
	sum := sha1.Sum(fmt.Appendf(nil, "%s:%.6f,%.6f", provider, lat, lon)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

// PayloadHash returns the hex SHA-256 of a raw response body, or nil when empty.
func PayloadHash(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	sum := sha256.Sum256(raw)
	h := hex.EncodeToString(sum[:])
	return &h
}

// ElevationResult is the selected best observation, denormalized.
type ElevationResult struct {
	ElevationMeters    float64   `json:"elevation_meters" yaml:"elevation_meters"`
	Provider           string    `json:"provider" yaml:"provider"`
	DistanceToInputM   *float64  `json:"distance_to_input_m" yaml:"distance_to_input_m"`
	SpatialResolutionM *float64  `json:"accuracy_meters" yaml:"accuracy_meters"`
	VerticalDatum      *string   `json:"vertical_datum" yaml:"vertical_datum"`
	Location           *GeoPoint `json:"measurement_location" yaml:"measurement_location"`
	CacheUsed          bool      `json:"cache_used" yaml:"cache_used"`
}

// Float is a small helper for optional numeric fields.
func Float(v float64) *float64 { return &v }

// String is a small helper for optional string fields.
func String(s string) *string { return &s }

// Bool is a small helper for optional boolean fields.
func Bool(b bool) *bool { return &b }
