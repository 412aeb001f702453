package nodelib

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NOT_RUNNING", StatusNotRunning.String())
	assert.Equal(t, "RUNNING", StatusRunning.String())
	assert.Equal(t, "BINARY_MISSING", StatusBinaryMissing.String())
	assert.Equal(t, "ERROR", StatusError.String())
	assert.Equal(t, "UNKNOWN", Status(42).String())
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusNotRunning, StatusRunning, StatusBinaryMissing, StatusError} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := ParseStatus(" running ")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, parsed)

	_, err = ParseStatus("STARTING")
	assert.Error(t, err)
}

func TestStatusSticky(t *testing.T) {
	assert.False(t, StatusNotRunning.Sticky())
	assert.False(t, StatusRunning.Sticky())
	assert.True(t, StatusBinaryMissing.Sticky())
	assert.True(t, StatusError.Sticky())
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusSnapshot{Status: StatusBinaryMissing})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"BINARY_MISSING"}`, string(data))

	var snapshot StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"status":"running","pid":42}`), &snapshot))
	assert.Equal(t, StatusSnapshot{Status: StatusRunning, PID: 42}, snapshot)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"bogus"}`), &snapshot))
}
