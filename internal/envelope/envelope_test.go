package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStatus(t *testing.T) {
	t.Parallel()

	body, err := Encode(TypeStatus, "42", NewStatus(StatusStarted, ""))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, Version, env.Version)
	assert.Equal(t, TypeStatus, env.MessageType)
	assert.Equal(t, "42", env.TaskID)
	assert.InDelta(t, time.Now().Unix(), env.Timestamp, 5)

	parsed, err := time.Parse(time.RFC3339, env.DateTime)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, 5*time.Second)

	var payload StatusPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, StatusStarted, payload.Status)
	assert.Nil(t, payload.Error)
}

func TestEncodeStatusErrorField(t *testing.T) {
	t.Parallel()

	body, err := Encode(TypeStatus, "7", NewStatus(StatusError, "no session"))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	var payload StatusPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.NotNil(t, payload.Error)
	assert.Equal(t, "no session", *payload.Error)
}

func TestEncodeProgress(t *testing.T) {
	t.Parallel()

	body, err := Encode(TypeProgress, "42", ProgressPayload{CurrentPage: 2, TotalPages: 5})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	var payload ProgressPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 2, payload.CurrentPage)
	assert.Equal(t, 5, payload.TotalPages)
}

func TestEncodeResultRoundTrip(t *testing.T) {
	t.Parallel()

	res := ResultPayload{
		TaskID:   "42",
		Keywords: []string{"电影", "排名", "TOP250"},
		URL:      "https://example.com/top250",
		Title:    "豆瓣电影 Top 250",
		Source:   "example.com",
		DateTime: time.Now().Format(time.RFC3339),
	}
	body, err := Encode(TypeResult, res.TaskID, res)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	var got ResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, res, got)
}

func TestNewResultNormalizesLegacyKeywords(t *testing.T) {
	t.Parallel()

	fromList := NewResult("9", []string{"电影", "排名", "TOP250"}, "https://e.com", "t", "s", "2026-01-01T00:00:00Z")
	fromLegacy := NewResult("9", "[电影,排名,TOP250]", "https://e.com", "t", "s", "2026-01-01T00:00:00Z")
	assert.Equal(t, fromList, fromLegacy)
	assert.Equal(t, []string{"电影", "排名", "TOP250"}, fromLegacy.Keywords)
}

func TestNewResultDefaultsDateTime(t *testing.T) {
	t.Parallel()

	res := NewResult("9", nil, "https://e.com", "t", "s", "")
	_, err := time.Parse(time.RFC3339, res.DateTime)
	assert.NoError(t, err)
}

func TestNormalizeKeywords(t *testing.T) {
	t.Parallel()

	want := []string{"电影", "排名", "TOP250"}

	cases := map[string]any{
		"string slice":       []string{"电影", "排名", "TOP250"},
		"any slice":          []any{"电影", "排名", "TOP250"},
		"json array string":  `["电影","排名","TOP250"]`,
		"bracketed string":   "[电影,排名,TOP250]",
		"plain comma string": "电影, 排名, TOP250",
		"fullwidth commas":   "电影，排名，TOP250",
		"raw json array":     json.RawMessage(`["电影","排名","TOP250"]`),
		"raw legacy string":  json.RawMessage(`"[电影,排名,TOP250]"`),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, NormalizeKeywords(in))
		})
	}
}

func TestNormalizeKeywordsEdgeCases(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NormalizeKeywords(nil))
	assert.Empty(t, NormalizeKeywords(""))
	assert.Empty(t, NormalizeKeywords("[]"))
	assert.Equal(t, []string{"golang"}, NormalizeKeywords("golang"))
	assert.Equal(t, []string{"a", "b"}, NormalizeKeywords([]string{" a ", "", "b"}))
	// Numbers inside a JSON array are stringified, not dropped.
	assert.Equal(t, []string{"1", "go"}, NormalizeKeywords(`[1,"go"]`))
}
