package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("run_id", "abc").Info("started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["run_id"])
	assert.Equal(t, "started", entry["msg"])
}

func TestNewDefaults(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	log.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "text")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
