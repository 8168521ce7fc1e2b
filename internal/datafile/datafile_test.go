package datafile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/traffic"
)

func sampleDatafile() *Datafile {
	return &Datafile{
		SchemaVersion: SchemaVersion,
		Revision:      4,
		Environment:   "production",
		Tag:           "web",
		Features: []Feature{
			{
				Key:      "checkout",
				BucketBy: "userId",
				Variations: []traffic.Variation{
					{Value: "control", Weight: 50_000},
					{Value: "treatment", Weight: 50_000},
				},
				Traffic: []traffic.Traffic{
					{
						Key:        "beta",
						Segments:   []string{"beta-users"},
						Percentage: 100_000,
						Allocation: []traffic.Allocation{
							{Variation: "control", Range: bucketing.Range{Start: 0, End: 50_000}},
							{Variation: "treatment", Range: bucketing.Range{Start: 50_000, End: 100_000}},
						},
						Variation: "treatment",
					},
					{
						Key:        "everyone",
						Segments:   []string{"*"},
						Percentage: 100_000,
						Allocation: []traffic.Allocation{
							{Variation: "control", Range: bucketing.Range{Start: 0, End: 50_000}},
							{Variation: "treatment", Range: bucketing.Range{Start: 50_000, End: 100_000}},
						},
					},
					{Key: "nobody", Segments: []string{"*"}, Allocation: []traffic.Allocation{}},
				},
			},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	t.Run("Should write the documented layout", func(t *testing.T) {
		t.Parallel()

		df := &Datafile{SchemaVersion: SchemaVersion, Revision: 1, Environment: "staging", Tag: "all", Features: []Feature{{
			Key:      "search",
			BucketBy: "userId",
			Traffic:  []traffic.Traffic{{Key: "r", Segments: []string{"*"}, Percentage: 10, Allocation: []traffic.Allocation{}}},
			Ranges:   bucketing.Ranges{{Start: 0, End: 60_000}},
		}}}

		data, err := Encode(df)

		require.NoError(t, err)
		assert.JSONEq(t, `{
			"schemaVersion": "2", "revision": 1, "environment": "staging", "tag": "all",
			"features": [{"key": "search", "bucketBy": "userId", "ranges": [[0, 60000]],
				"traffic": [{"key": "r", "segments": ["*"], "percentage": 10, "allocation": []}]}]
		}`, string(data))
	})

	t.Run("Should decode what it encodes", func(t *testing.T) {
		t.Parallel()

		data, err := Encode(sampleDatafile())
		require.NoError(t, err)

		got, err := Decode(data)

		require.NoError(t, err)
		assert.Equal(t, sampleDatafile(), got)
	})

	t.Run("Should reject other schema versions", func(t *testing.T) {
		t.Parallel()

		_, err := Decode([]byte(`{"schemaVersion": "1", "features": []}`))

		assert.ErrorContains(t, err, "unsupported datafile schema version")
	})
}

func TestWriteRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	path, err := Write(dir, sampleDatafile())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "production", "web.json"), path)

	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err := Read(dir, "production", "web")
	require.NoError(t, err)
	assert.Equal(t, sampleDatafile(), got)

	_, err = Read(dir, "production", "ios")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExplain(t *testing.T) {
	t.Parallel()

	t.Run("Should report every rule at the hashed position", func(t *testing.T) {
		t.Parallel()

		// Arrange: both allocated rules cover the whole space, so any key is bucketed.
		df := sampleDatafile()
		key := "user-123"
		pos := bucketing.Position(key)
		allocated := "control"
		if pos >= 50_000 {
			allocated = "treatment"
		}

		// Act
		got, err := df.Explain("checkout", key)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, pos, got.Position)
		assert.Equal(t, "userId", got.BucketBy)
		assert.False(t, got.InGroup)
		assert.True(t, got.InRanges)
		assert.Equal(t, []RuleExplanation{
			{Rule: "beta", Segments: []string{"beta-users"}, Percentage: 100_000, Bucketed: true, Allocated: allocated, Variation: "treatment"},
			{Rule: "everyone", Segments: []string{"*"}, Percentage: 100_000, Bucketed: true, Allocated: allocated, Variation: allocated},
			{Rule: "nobody", Segments: []string{"*"}},
		}, got.Rules)
	})

	t.Run("Should report group membership", func(t *testing.T) {
		t.Parallel()

		key := "device-9"
		pos := bucketing.Position(key)
		df := sampleDatafile()
		df.Features[0].Ranges = bucketing.Ranges{{Start: pos, End: pos + 1}}

		got, err := df.Explain("checkout", key)

		require.NoError(t, err)
		assert.True(t, got.InGroup)
		assert.True(t, got.InRanges)
	})

	t.Run("Should fail for an unknown feature", func(t *testing.T) {
		t.Parallel()

		_, err := sampleDatafile().Explain("missing", "u")

		assert.ErrorIs(t, err, ErrUnknownFeature)
	})

	t.Run("Should serialise for the API", func(t *testing.T) {
		t.Parallel()

		got, err := sampleDatafile().Explain("checkout", "u")
		require.NoError(t, err)

		data, err := json.Marshal(got)

		require.NoError(t, err)
		assert.Contains(t, string(data), `"rule":"nobody","segments":["*"],"percentage":0,"bucketed":false}`)
	})
}
