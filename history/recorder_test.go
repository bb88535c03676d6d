package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeengine/models"
)

func TestRecorder_TrimsToLimit(t *testing.T) {
	r := NewRecorder(3)
	for i := int64(0); i < 5; i++ {
		r.Record(models.HistoryRecord{TsMs: i, Kind: "features"})
	}
	records := r.Records()
	assert.Len(t, records, 3)
	assert.Equal(t, int64(2), records[0].TsMs)
	assert.Equal(t, int64(4), records[2].TsMs)
}

func TestRecorder_DefaultLimit(t *testing.T) {
	r := NewRecorder(0)
	assert.Equal(t, defaultLimit, r.limit)
}

func TestRecorder_RecordsAreIndependentCopies(t *testing.T) {
	r := NewRecorder(10)
	r.Record(models.HistoryRecord{TsMs: 1})
	snapshot := r.Records()
	r.Record(models.HistoryRecord{TsMs: 2})
	assert.Len(t, snapshot, 1, "earlier snapshot must not observe later writes")
}
