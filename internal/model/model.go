package model

import "time"

// Event is one uploaded object as delivered by a trigger source.
type Event struct {
	Key        string
	Bucket     string
	Attributes map[string]string
}

// Location names where an artifact lives, e.g. s3://bucket/key.
type Location struct {
	Purpose  string `json:"purpose" dynamodbav:"purpose"`
	Location string `json:"location" dynamodbav:"location"`
}

// BasicAttributes are the facts read from the image header.
type BasicAttributes struct {
	Format     string `json:"format" dynamodbav:"format"`
	Width      int    `json:"width" dynamodbav:"width"`
	Height     int    `json:"height" dynamodbav:"height"`
	ColorSpace string `json:"colorSpace" dynamodbav:"colorSpace"`
	Channels   int    `json:"channels" dynamodbav:"channels"`
	HasAlpha   bool   `json:"hasAlpha" dynamodbav:"hasAlpha"`
}

// ProcessingRecord is the audit entry written once per processed key.
type ProcessingRecord struct {
	RecordID           string          `json:"recordId" dynamodbav:"recordId"`
	Key                string          `json:"key" dynamodbav:"key"`
	SourceLocation     string          `json:"sourceLocation" dynamodbav:"sourceLocation"`
	DerivedLocations   []Location      `json:"derivedLocations" dynamodbav:"derivedLocations"`
	BasicAttributes    BasicAttributes `json:"basicAttributes" dynamodbav:"basicAttributes"`
	ExtendedAttributes map[string]any  `json:"extendedAttributes" dynamodbav:"extendedAttributes"`
	ProcessedAt        string          `json:"processedAt" dynamodbav:"processedAt"`
}

// Stamp sets ProcessedAt to t in ISO-8601 UTC.
func (r *ProcessingRecord) Stamp(t time.Time) {
	r.ProcessedAt = t.UTC().Format(time.RFC3339)
}

// DerivedLocation returns the location recorded for purpose, if any.
func (r *ProcessingRecord) DerivedLocation(purpose string) (string, bool) {
	for _, l := range r.DerivedLocations {
		if l.Purpose == purpose {
			return l.Location, true
		}
	}
	return "", false
}

type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusRejected  Status = "rejected"
)

// Outcome is the non-error result of handling one Event. Record is set only
// when Status is StatusProcessed.
type Outcome struct {
	Status Status
	Key    string
	Record *ProcessingRecord
}
