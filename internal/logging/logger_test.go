package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelpipe/internal/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logging.ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, logging.ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, logging.ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, logging.ParseLevel("bogus"))
}

func TestCtx_AddsRunAndRequestIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	defer logging.SetLogger(prev)

	ctx := logging.ContextWithRunID(context.Background(), "run-1")
	ctx = logging.ContextWithRequestID(ctx, "req-9")
	logging.Ctx(ctx).Warn().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "hello", line["message"])
}

func TestNewRunID_Unique(t *testing.T) {
	assert.NotEqual(t, logging.NewRunID(), logging.NewRunID())
}
