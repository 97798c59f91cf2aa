package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tcases := []struct {
		name      string
		level     string
		logDebug  bool
		expectOut bool
	}{
		{name: "debug level writes debug", level: "debug", logDebug: true, expectOut: true},
		{name: "info level drops debug", level: "info", logDebug: true, expectOut: false},
		{name: "unknown level falls back to info", level: "verbose", logDebug: false, expectOut: true},
		{name: "upper case level", level: "WARN", logDebug: true, expectOut: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := New(tc.level, true, buf)
			if tc.logDebug {
				l.Debug().Msg("hello")
			} else {
				l.Info().Msg("hello")
			}

			if tc.expectOut {
				assert.Contains(t, buf.String(), "hello")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := WithComponent(New("info", true, buf), "worker")
	l.Info().Msg("started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "worker", line["component"])
	assert.Equal(t, "quizlive", line["service"])
	assert.Equal(t, "started", line["message"])
}
