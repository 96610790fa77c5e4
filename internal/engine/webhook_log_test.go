package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryLogEvictsOldestBeyondCapacity(t *testing.T) {
	l := NewDeliveryLog(DefaultLogCapacity)
	for i := 0; i < DefaultLogCapacity+25; i++ {
		l.Append(&LogEntry{ID: fmt.Sprintf("e%d", i)})
	}

	entries := l.Entries()
	require.Len(t, entries, DefaultLogCapacity)
	assert.Equal(t, fmt.Sprintf("e%d", DefaultLogCapacity+24), entries[0].ID)
	assert.Equal(t, "e25", entries[len(entries)-1].ID, "first 25 entries evicted")
}

func TestDeliveryLogNewest(t *testing.T) {
	l := NewDeliveryLog(10)
	for i := 0; i < 5; i++ {
		l.Append(&LogEntry{ID: fmt.Sprintf("e%d", i)})
	}

	newest := l.Newest(2)
	require.Len(t, newest, 2)
	assert.Equal(t, "e4", newest[0].ID)
	assert.Equal(t, "e3", newest[1].ID)
	assert.Len(t, l.Newest(100), 5)
	assert.Len(t, l.Newest(0), 5)
}

func TestDeliveryLogLoadAndClear(t *testing.T) {
	l := NewDeliveryLog(2)
	l.Load([]*LogEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	assert.Equal(t, 2, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Entries())
}

func TestDeliveryLogLoadSkipsNullEntries(t *testing.T) {
	l := NewDeliveryLog(2)
	l.Load([]*LogEntry{nil, {ID: "a", EndpointID: "wh_1", Success: true}, nil, {ID: "b", EndpointID: "wh_1"}, {ID: "c"}})
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "a", l.Entries()[0].ID)
	assert.Equal(t, 2, l.Stats("wh_1").TotalCalls)
}

func TestStatsWithoutLogsAreZero(t *testing.T) {
	l := NewDeliveryLog(10)
	l.Append(&LogEntry{EndpointID: "other", Success: true, ResponseTime: 10})

	assert.Equal(t, Stats{}, l.Stats("wh_none"))
}

func TestStatsRounding(t *testing.T) {
	l := NewDeliveryLog(10)
	l.Append(&LogEntry{EndpointID: "wh", Success: true, ResponseTime: 10})
	l.Append(&LogEntry{EndpointID: "wh", Success: true, ResponseTime: 11})
	l.Append(&LogEntry{EndpointID: "wh", Success: false, ResponseTime: 11})
	l.Append(&LogEntry{EndpointID: "other", Success: false, ResponseTime: 999})

	s := l.Stats("wh")
	assert.Equal(t, 3, s.TotalCalls)
	assert.Equal(t, 2, s.SuccessfulCalls)
	assert.Equal(t, 1, s.FailedCalls)
	assert.Equal(t, 67, s.SuccessRate)
	assert.Equal(t, 11, s.AverageResponseTime)
}
