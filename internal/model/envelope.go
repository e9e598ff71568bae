package model

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the output envelope schema version.
const SchemaVersion = "1.0.0"

// EnrichmentRun carries run metadata for an envelope.
type EnrichmentRun struct {
	ID            string    `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	EndedAt       time.Time `json:"ended_at" yaml:"ended_at"`
	ToolVersion   string    `json:"tool_version" yaml:"tool_version"`
	ReadFromCache bool      `json:"read_from_cache" yaml:"read_from_cache"`
	WriteToCache  bool      `json:"write_to_cache" yaml:"write_to_cache"`
}

// NewRun starts a run at now with a fresh ID.
func NewRun(now time.Time, toolVersion string, readFromCache, writeToCache bool) EnrichmentRun {
	return EnrichmentRun{
		ID:            uuid.New().String(),
		StartedAt:     now.UTC(),
		ToolVersion:   toolVersion,
		ReadFromCache: readFromCache,
		WriteToCache:  writeToCache,
	}
}

// OutputEnvelope is the read-only result of one top-level request.
type OutputEnvelope struct {
	SchemaVersion string        `json:"schema_version" yaml:"schema_version"`
	Run           EnrichmentRun `json:"run" yaml:"run"`
	SubjectID     string        `json:"subject_id" yaml:"subject_id"`
	Observations  []Observation `json:"observations" yaml:"observations"`
}

// NewEnvelope seals a run and copies the observations into an envelope.
func NewEnvelope(subjectID string, run EnrichmentRun, ended time.Time, obs []Observation) OutputEnvelope {
	run.EndedAt = ended.UTC()
	cp := make([]Observation, len(obs))
	copy(cp, obs)
	return OutputEnvelope{
		SchemaVersion: SchemaVersion,
		Run:           run,
		SubjectID:     subjectID,
		Observations:  cp,
	}
}
