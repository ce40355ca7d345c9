package publish

import "github.com/neurostream-systems/neurostream/internal/model"

// Subject constants for the neural record bus.
// Follow the pattern: {domain}.{resource}.{source_type}
const (
	// SubjectRecordsPrefix roots all validated-record subjects.
	SubjectRecordsPrefix = "neural.records"

	// SubjectDeadLetter carries envelopes that exhausted their retry
	// budget, for out-of-band inspection.
	SubjectDeadLetter = "neural.deadletter"
)

// Queue group names for load-balanced downstream consumers.
const (
	QueueDecoderWorkers = "decoder-workers" // movement/emotion model feeders
	QueueArchiveWorkers = "archive-workers" // long-term store writers
)

// RecordSubject returns the subject for records of one source type.
// Example: neural.records.eeg
func RecordSubject(st model.SourceType) string {
	return SubjectRecordsPrefix + "." + string(st)
}
