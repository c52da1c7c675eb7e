package validator

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalEvent = `{"provider":"openai","model":"gpt-4o","input_tokens":120,"output_tokens":30}`

func TestValidateAppliesDefaults(t *testing.T) {
	res := Validate([]byte(minimalEvent))
	require.True(t, res.Valid, res.Errors)

	assert.Equal(t, "openai", res.Event.Provider)
	assert.Equal(t, int64(120), res.Event.InputTokens)
	assert.Equal(t, int64(0), res.Event.CachedTokens)
	assert.Equal(t, "1.0.0", res.Event.SDKVersion)
	assert.Equal(t, "typescript", res.Event.SDKLanguage)
	assert.False(t, res.Event.IsStreaming)
}

func TestValidateReportsFieldErrors(t *testing.T) {
	res := Validate([]byte(`{
		"provider": "acme",
		"model": "",
		"input_tokens": -1,
		"output_tokens": 1.5,
		"request_id": "not-a-uuid",
		"environment": "prod",
		"error_message": "` + strings.Repeat("x", 1001) + `"
	}`))
	require.False(t, res.Valid)

	assert.Contains(t, res.Errors, "request_id: Invalid uuid")
	assert.Contains(t, res.Errors, "model: String must contain at least 1 character(s)")
	assert.Contains(t, res.Errors, "input_tokens: Number must be greater than or equal to 0")
	assert.Contains(t, res.Errors, "output_tokens: Expected integer, received float")
	assert.Contains(t, res.Errors, "error_message: String must contain at most 1000 character(s)")

	var providerErr, envErr bool
	for _, e := range res.Errors {
		providerErr = providerErr || strings.HasPrefix(e, "provider: Invalid enum value")
		envErr = envErr || strings.HasPrefix(e, "environment: Invalid enum value")
	}
	assert.True(t, providerErr)
	assert.True(t, envErr)
}

func TestValidateRequiredAndTypes(t *testing.T) {
	res := Validate([]byte(`{"model":"gpt-4o","input_tokens":"10","metadata":[1]}`))
	require.False(t, res.Valid)

	assert.Contains(t, res.Errors, "provider: Required")
	assert.Contains(t, res.Errors, "input_tokens: Expected number, received string")
	assert.Contains(t, res.Errors, "output_tokens: Required")
	assert.Contains(t, res.Errors, "metadata: Expected object, received array")
}

func TestValidateAcceptsIntegralFloats(t *testing.T) {
	res := Validate([]byte(`{"provider":"openai","model":"gpt-4o","input_tokens":5.0,"output_tokens":1e3,"latency_ms":250.00}`))
	require.True(t, res.Valid, res.Errors)

	assert.Equal(t, int64(5), res.Event.InputTokens)
	assert.Equal(t, int64(1000), res.Event.OutputTokens)
	assert.Equal(t, int64(250), res.Event.LatencyMs)
}

func TestValidateTimestampMustBeUTC(t *testing.T) {
	cases := map[string]bool{
		"2025-01-02T03:04:05Z":          true,
		"2025-01-02T03:04:05.123456Z":   true,
		"2025-01-02T03:04:05+02:00":     false,
		"2025-01-02T03:04:05.000-05:00": false,
		"2025-01-02 03:04:05Z":          false,
		"2025-13-02T03:04:05Z":          false,
	}
	for ts, valid := range cases {
		res := Validate([]byte(`{"provider":"openai","model":"gpt-4o","input_tokens":1,"output_tokens":1,"timestamp":"` + ts + `"}`))
		assert.Equal(t, valid, res.Valid, ts)
		if !valid {
			assert.Contains(t, res.Errors, "timestamp: Invalid datetime", ts)
		}
	}
}

func TestValidateRejectsNonObject(t *testing.T) {
	assert.False(t, Validate([]byte(`[1,2]`)).Valid)
	assert.False(t, Validate([]byte(`null`)).Valid)
}

func TestValidateBatchPartiallySucceeds(t *testing.T) {
	events := []json.RawMessage{
		json.RawMessage(minimalEvent),
		json.RawMessage(`{"provider":"openai"}`),
		json.RawMessage(`{"provider":"anthropic","model":"claude-3-haiku","input_tokens":1,"output_tokens":2,"timestamp":"2025-01-02T03:04:05.000Z"}`),
	}

	res := ValidateBatch(events)
	assert.Len(t, res.Valid, 2)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 1, res.Invalid[0].Index)
	assert.Contains(t, res.Invalid[0].Errors, "model: Required")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	once := NormalizeAt(models.TelemetryPayload{Provider: "openai", Model: "gpt-4o"}, now)

	assert.NotEmpty(t, once.RequestID)
	assert.Equal(t, "2025-03-04T05:06:07.008Z", once.Timestamp)
	assert.Equal(t, "production", once.Environment)
	assert.NotNil(t, once.Metadata)

	twice := NormalizeAt(once, now.Add(time.Hour))
	assert.Equal(t, once, twice)
}
