package protocol

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportsCancellation(t *testing.T) {
	t.Parallel()
	t.Run("it should gate cancel messages on version 1.1.0", func(t *testing.T) {
		assert.False(t, SupportsCancellation("1.0.0"))
		assert.True(t, SupportsCancellation("1.1.0"))
		assert.True(t, SupportsCancellation("1.2.0"))
		assert.True(t, SupportsCancellation("2.0.0"))
	})
	t.Run("it should treat unparseable versions as unsupported", func(t *testing.T) {
		assert.False(t, SupportsCancellation(""))
		assert.False(t, SupportsCancellation("latest"))
	})
}

func TestWebsocketURL(t *testing.T) {
	t.Parallel()
	t.Run("it should substitute ws schemes and append the version", func(t *testing.T) {
		u, err := WebsocketURL("https://abc.sql.cloud.wherobots.com", "1.1.0")
		require.NoError(t, err)
		assert.Equal(t, "wss://abc.sql.cloud.wherobots.com/1.1.0", u)

		u, err = WebsocketURL("http://localhost:8080/sql", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:8080/sql/1.0.0", u)
	})
	t.Run("it should reject unknown schemes", func(t *testing.T) {
		_, err := WebsocketURL("ftp://example.com", "1.0.0")
		assert.Error(t, err)
	})
}

func TestParseInbound(t *testing.T) {
	t.Parallel()
	t.Run("it should parse state_updated text frames", func(t *testing.T) {
		f := Frame{Data: []byte(`{"kind":"state_updated","execution_id":"abc","state":"succeeded"}`)}
		m, ok := ParseStateUpdated(f)
		require.True(t, ok)
		assert.Equal(t, "abc", m.ExecutionID)
		assert.Equal(t, StateSucceeded, m.State)
	})

	t.Run("it should reject frames of another kind or missing fields", func(t *testing.T) {
		_, ok := ParseStateUpdated(Frame{Data: []byte(`{"kind":"error","execution_id":"abc","message":"x"}`)})
		assert.False(t, ok)
		_, ok = ParseStateUpdated(Frame{Data: []byte(`{"kind":"state_updated"}`)})
		assert.False(t, ok)
		_, ok = ParseStateUpdated(Frame{Data: []byte(`not json`)})
		assert.False(t, ok)
	})

	t.Run("it should parse error frames", func(t *testing.T) {
		m, ok := ParseError(Frame{Data: []byte(`{"kind":"error","execution_id":"abc","message":"syntax error"}`)})
		require.True(t, ok)
		assert.Equal(t, "syntax error", m.Message)
	})

	t.Run("it should parse execution_result from a JSON text frame", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{
			"kind":         KindExecutionResult,
			"execution_id": "abc",
			"state":        StateSucceeded,
			"results": map[string]any{
				"result_bytes": []byte{0x01, 0x02},
				"compression":  "brotli",
				"format":       "json",
				"geometry":     "wkt",
				"geo_columns":  []string{"geom"},
			},
		})
		require.NoError(t, err)
		m, ok := ParseExecutionResult(Frame{Data: payload})
		require.True(t, ok)
		assert.Equal(t, []byte{0x01, 0x02}, m.Results.ResultBytes)
		assert.Equal(t, "brotli", m.Results.Compression)
		assert.Equal(t, []string{"geom"}, m.Results.GeoColumns)
	})

	t.Run("it should parse execution_result from a binary CBOR frame", func(t *testing.T) {
		payload, err := cbor.Marshal(ExecutionResult{
			Kind:        KindExecutionResult,
			ExecutionID: "abc",
			State:       StateSucceeded,
			Results: ResultsPayload{
				ResultBytes: []byte{0xca, 0xfe},
				Compression: "brotli",
				Format:      "json",
				Geometry:    "wkt",
			},
		})
		require.NoError(t, err)
		m, ok := ParseExecutionResult(Frame{Binary: true, Data: payload})
		require.True(t, ok)
		assert.Equal(t, "abc", m.ExecutionID)
		assert.Equal(t, []byte{0xca, 0xfe}, m.Results.ResultBytes)
	})

	t.Run("it should reject execution_result without payload bytes", func(t *testing.T) {
		_, ok := ParseExecutionResult(Frame{Data: []byte(`{"kind":"execution_result","execution_id":"abc","results":{}}`)})
		assert.False(t, ok)
	})
}
