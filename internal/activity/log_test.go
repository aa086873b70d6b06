package activity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_NewestFirst(t *testing.T) {
	l := New(10)
	l.Add("/a", StatusOK, nil, "")
	l.Add("/b", StatusFailed, map[string]any{"viber_id": "U1"}, "boom")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "/b", entries[0].Endpoint)
	assert.Equal(t, "boom", entries[0].Error)
	assert.Equal(t, "U1", entries[0].Payload["viber_id"])
	assert.Equal(t, "/a", entries[1].Endpoint)
}

func TestLog_DropsOldestPastCapacity(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Add(fmt.Sprintf("/%d", i), StatusOK, nil, "")
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "/4", entries[0].Endpoint)
	assert.Equal(t, "/3", entries[1].Endpoint)
	assert.Equal(t, "/2", entries[2].Endpoint)
}

func TestLog_EmptyAndDefaultSize(t *testing.T) {
	l := New(0)
	assert.Empty(t, l.Entries())
	assert.Len(t, l.entries, DefaultSize)
}
