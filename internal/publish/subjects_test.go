package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostream-systems/neurostream/internal/model"
)

func TestRecordSubject(t *testing.T) {
	assert.Equal(t, "neural.records.eeg", RecordSubject(model.SourceEEG))
	assert.Equal(t, "neural.records.spikes", RecordSubject(model.SourceSpikes))
	assert.Equal(t, "neural.records.other", RecordSubject(model.SourceOther))
}
