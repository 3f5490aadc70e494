package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/redact/internal/privacy"
)

func TestNewJob(t *testing.T) {
	findings := []privacy.Finding{
		{Category: privacy.CategoryEmail, Count: 2},
		{Category: privacy.CategoryGPE, Count: 3},
	}

	job := NewJob("api:text", privacy.LevelToken, privacy.OverlapKeepAll, findings, 120, 1500*time.Millisecond)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, "api:text", job.Source)
	assert.Equal(t, 2, job.Level)
	assert.Equal(t, "keep_all", job.Strategy)
	assert.Equal(t, 5, job.EntityCount)
	assert.Equal(t, Counts{"EMAIL": 2, "GPE": 3}, job.Counts)
	assert.Equal(t, 120, job.InputChars)
	assert.Equal(t, int64(1500), job.DurationMS)
}

func TestCountsValueAndScan(t *testing.T) {
	v, err := Counts{"PHONE": 1}.Value()
	require.NoError(t, err)

	var c Counts
	require.NoError(t, c.Scan(v))
	assert.Equal(t, Counts{"PHONE": 1}, c)

	require.NoError(t, c.Scan(`{"ORG":4}`))
	assert.Equal(t, Counts{"ORG": 4}, c)

	require.NoError(t, c.Scan(nil))
	assert.Empty(t, c)

	var nilCounts Counts
	v, err = nilCounts.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	assert.Error(t, c.Scan(42))
	assert.Error(t, c.Scan([]byte("not json")))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultRecentLimit, clampLimit(0))
	assert.Equal(t, defaultRecentLimit, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxRecentLimit, clampLimit(10_000))
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgres://redact:s3cret@db:5432/redact?sslmode=disable": "postgres://redact:***@db:5432/redact?sslmode=disable",
		"postgres://redact@db:5432/redact":                        "postgres://redact@db:5432/redact",
		"postgres://db:5432/redact":                               "postgres://db:5432/redact",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskDatabaseURL(in), in)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), &Job{}))
}
