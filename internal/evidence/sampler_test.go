package evidence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

func members(n int, lvl model.Level) []model.Record {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	out := make([]model.Record, n)
	for i := range out {
		ts := base.Add(time.Duration(i) * time.Second)
		out[i] = model.Record{
			LineNumber: i + 1,
			Raw:        "ERROR connection reset",
			Level:      lvl,
			Message:    "connection reset",
			Timestamp:  &ts,
		}
	}
	return out
}

func lineNumbers(ev model.Evidence) []int {
	return (&ev).LineNumbers()
}

func TestSample_BoundedFor10000Duplicates(t *testing.T) {
	recs := members(10000, model.LevelError)

	ev := NewSampler(8).Sample(recs)

	require.Len(t, ev.SampleLines, 8)
	lines := lineNumbers(ev)
	assert.Equal(t, []int{1, 1429, 2857, 4286, 5714, 7143, 8571, 10000}, lines)
	assert.Equal(t, 1, lines[0], "earliest occurrence included")
	assert.Equal(t, 10000, lines[7], "latest occurrence included")
	assert.IsIncreasing(t, lines)
	assert.Equal(t, []string{"connection reset"}, ev.TopMessages)
	assert.True(t, recs[0].Timestamp.Equal(*ev.FirstSeen))
	assert.True(t, recs[9999].Timestamp.Equal(*ev.LastSeen))
}

func TestSample_IncludesWorstSeverity(t *testing.T) {
	recs := members(50, model.LevelWarn)
	recs[20].Level = model.LevelError
	recs[33].Level = model.LevelError

	ev := NewSampler(4).Sample(recs)

	assert.Equal(t, []int{1, 21, 34, 50}, lineNumbers(ev))
}

func TestSample_EarliestByTimestamp(t *testing.T) {
	recs := members(5, model.LevelInfo)
	early := recs[0].Timestamp.Add(-time.Hour)
	recs[3].Timestamp = &early

	ev := NewSampler(2).Sample(recs)

	assert.Equal(t, []int{4, 5}, lineNumbers(ev))
	assert.True(t, early.Equal(*ev.FirstSeen))
}

func TestSample_SmallClusterKeepsAll(t *testing.T) {
	recs := members(3, model.LevelError)

	ev := (&Sampler{}).Sample(recs)

	assert.Equal(t, []int{1, 2, 3}, lineNumbers(ev))
}

func TestSample_NoTimestamps(t *testing.T) {
	recs := []model.Record{
		{LineNumber: 9, Message: "c"},
		{LineNumber: 2, Message: "a"},
		{LineNumber: 5, Message: "b"},
	}

	ev := NewSampler(2).Sample(recs)

	assert.Equal(t, []int{2, 9}, lineNumbers(ev))
	assert.Nil(t, ev.FirstSeen)
	assert.Equal(t, model.LevelUnknown, ev.SampleLines[0].Level)
	assert.Equal(t, []string{"a", "b", "c"}, ev.TopMessages)
}

func TestSample_Empty(t *testing.T) {
	ev := NewSampler(8).Sample(nil)

	assert.NotNil(t, ev.SampleLines)
	assert.Empty(t, ev.SampleLines)
}

func TestSample_ClipsLongLines(t *testing.T) {
	recs := []model.Record{{LineNumber: 1, Message: strings.Repeat("x", 900), Raw: strings.Repeat("y", 900)}}

	ev := (&Sampler{MaxLineLength: 100}).Sample(recs)

	assert.Equal(t, 101, len([]rune(ev.SampleLines[0].Raw)))
}

func TestSample_Deterministic(t *testing.T) {
	recs := members(777, model.LevelWarn)
	recs[100].Level = model.LevelError

	s := NewSampler(8)
	assert.Equal(t, s.Sample(recs), s.Sample(recs))
}
