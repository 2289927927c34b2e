package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(start, end string) domain.DateRange {
	return domain.NewDateRange(day(start), day(end))
}

var defaultsForTest = rng("2024-05-02", "2024-05-31")

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{
			name: "dates only, no client restriction",
			snap: Snapshot{Filter: domain.FilterState{DateRange: rng("2024-03-10", "2024-03-20")}},
		},
		{
			name: "single client",
			snap: Snapshot{Filter: domain.FilterState{
				DateRange: rng("2024-03-10", "2024-03-10"),
				TenantIDs: []string{"c-1"},
			}},
		},
		{
			name: "multiple clients keep their order",
			snap: Snapshot{Filter: domain.FilterState{
				DateRange: rng("2024-01-01", "2024-12-31"),
				TenantIDs: []string{"c-9", "c-1", "c-5"},
			}},
		},
		{
			name: "every field set",
			snap: Snapshot{
				Filter: domain.FilterState{
					DateRange:    rng("2023-12-30", "2024-01-02"),
					TenantIDs:    []string{"a", "b"},
					DeploymentID: "dep-7",
					AgentType:    domain.AgentTypeCampaign,
				},
				ViewAsUser: "user-42",
			},
		},
		{
			name: "ids with url-significant characters",
			snap: Snapshot{Filter: domain.FilterState{
				DateRange:    rng("2024-02-28", "2024-03-01"),
				TenantIDs:    []string{"a&b", "c=d", "e f"},
				DeploymentID: "x/y?z",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.snap.Filter.Validate())

			// Через строку, как это происходит в браузере.
			q, err := url.ParseQuery(Encode(tt.snap).Encode())
			require.NoError(t, err)

			got, err := Decode(q, defaultsForTest)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.snap, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	q := Encode(Snapshot{Filter: domain.FilterState{DateRange: rng("2024-03-10", "2024-03-20")}})

	assert.Equal(t, "2024-03-10", q.Get(ParamStartDate))
	assert.Equal(t, "2024-03-20", q.Get(ParamEndDate))
	for _, k := range []string{ParamClientIDs, ParamDeploymentID, ParamAgentType, ParamViewAsUser} {
		assert.False(t, q.Has(k), "unexpected %s", k)
	}
}

func TestDecodeDefaultsAndCorrections(t *testing.T) {
	t.Run("missing dates use defaults", func(t *testing.T) {
		got, err := Decode(url.Values{}, defaultsForTest)
		require.NoError(t, err)
		assert.Equal(t, defaultsForTest, got.Filter.DateRange)
		assert.Nil(t, got.Filter.TenantIDs)
	})

	t.Run("start after end falls back to defaults", func(t *testing.T) {
		got, err := Decode(url.Values{
			ParamStartDate: {"2024-03-20"},
			ParamEndDate:   {"2024-03-10"},
		}, defaultsForTest)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, defaultsForTest, got.Filter.DateRange)
	})

	t.Run("garbage date is reported and replaced", func(t *testing.T) {
		got, err := Decode(url.Values{ParamStartDate: {"yesterday"}}, defaultsForTest)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, defaultsForTest.Start, got.Filter.DateRange.Start)
	})

	t.Run("unknown agent type is dropped", func(t *testing.T) {
		got, err := Decode(url.Values{ParamAgentType: {"fax"}}, defaultsForTest)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Empty(t, got.Filter.AgentType)
	})

	t.Run("blank list entries are ignored", func(t *testing.T) {
		got, err := Decode(url.Values{ParamClientIDs: {" a, ,b,"}}, defaultsForTest)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got.Filter.TenantIDs)
	})

	t.Run("empty list means no restriction", func(t *testing.T) {
		got, err := Decode(url.Values{ParamClientIDs: {""}}, defaultsForTest)
		require.NoError(t, err)
		assert.Nil(t, got.Filter.TenantIDs)
	})
}

func TestMergeKeepsForeignParams(t *testing.T) {
	base := url.Values{
		"tab":          {"latency"},
		ParamClientIDs: {"old"},
	}
	out := Merge(base, Snapshot{Filter: domain.FilterState{DateRange: rng("2024-03-10", "2024-03-20")}})

	assert.Equal(t, "latency", out.Get("tab"))
	assert.False(t, out.Has(ParamClientIDs))
	assert.Equal(t, "2024-03-10", out.Get(ParamStartDate))
	assert.Equal(t, "old", base.Get(ParamClientIDs), "base must not be mutated")
}
