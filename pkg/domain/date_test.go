package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "assetdesk/pkg/domain-errors"
)

// TestParseDate_Invariants validates the ingress invariant:
// "domain dates carry no time-of-day once parsed".
func TestParseDate_Invariants(t *testing.T) {
	t.Run("accepts ISO calendar date", func(t *testing.T) {
		d, err := ParseDate("2025-06-15")
		require.NoError(t, err)
		assert.Equal(t, NewDate(2025, time.June, 15), d)
	})

	t.Run("truncates timestamp-shaped input", func(t *testing.T) {
		d, err := ParseDate("2025-01-31T18:30:00.000Z")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-31", d.String())

		d, err = ParseDate("2025-01-31 23:59:59")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-31", d.String())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, in := range []string{"", "31-01-2025", "2025-13-01", "2025-02-30", "tomorrow"} {
			_, err := ParseDate(in)
			require.Error(t, err, "input %q", in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})

	t.Run("wrapped instant is midnight UTC", func(t *testing.T) {
		d := MustParseDate("2024-02-29")
		assert.Equal(t, time.UTC, d.Time().Location())
		assert.Zero(t, d.Time().Hour())
	})
}

func TestDateOf_UsesLocalCalendar(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on Jan 9 is already Jan 10 in IST.
	instant := time.Date(2025, time.January, 9, 20, 0, 0, 0, time.UTC).In(kolkata)
	assert.Equal(t, "2025-01-10", DateOf(instant).String())
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2025-01-31", 1, "2025-02-28"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2025-01-15", 1, "2025-02-15"},
		{"2024-12-01", 12, "2025-12-01"},
		{"2025-08-31", 6, "2026-02-28"},
		{"2025-11-30", 3, "2026-02-28"},
		{"2025-03-31", -1, "2025-02-28"},
		{"2025-01-10", -13, "2023-12-10"},
		{"2025-05-31", 0, "2025-05-31"},
	}
	for _, tt := range tests {
		got := MustParseDate(tt.from).AddMonths(tt.months)
		assert.Equal(t, tt.want, got.String(), "%s %+d months", tt.from, tt.months)
	}
}

func TestAddDays(t *testing.T) {
	assert.Equal(t, "2025-03-01", MustParseDate("2025-02-28").AddDays(1).String())
	assert.Equal(t, "2024-12-31", MustParseDate("2025-01-01").AddDays(-1).String())
}

func TestCompare(t *testing.T) {
	a := MustParseDate("2025-01-09")
	b := MustParseDate("2025-01-10")
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(MustParseDate("2025-01-09T10:00:00Z")))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 0, b.Compare(b))
}

func TestNullDate_JSON(t *testing.T) {
	type wrapper struct {
		Due NullDate `json:"due"`
	}

	t.Run("null and empty string decode as absent", func(t *testing.T) {
		for _, body := range []string{`{"due":null}`, `{"due":""}`, `{}`} {
			var w wrapper
			require.NoError(t, json.Unmarshal([]byte(body), &w), body)
			assert.False(t, w.Due.Valid, body)
		}
	})

	t.Run("date string decodes as present", func(t *testing.T) {
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"due":"2025-03-10"}`), &w))
		assert.True(t, w.Due.Valid)
		assert.Equal(t, "2025-03-10", w.Due.Date.String())
	})

	t.Run("malformed date is rejected", func(t *testing.T) {
		var w wrapper
		err := json.Unmarshal([]byte(`{"due":"10/03/2025"}`), &w)
		require.Error(t, err)
	})

	t.Run("encodes absent as null", func(t *testing.T) {
		b, err := json.Marshal(wrapper{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"due":null}`, string(b))

		b, err = json.Marshal(wrapper{Due: Some(MustParseDate("2025-12-01"))})
		require.NoError(t, err)
		assert.JSONEq(t, `{"due":"2025-12-01"}`, string(b))
	})
}

func TestNullDate_SQL(t *testing.T) {
	var n NullDate
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)

	require.NoError(t, n.Scan(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-02-28", n.String())

	require.NoError(t, n.Scan([]byte("2025-03-01")))
	assert.Equal(t, "2025-03-01", n.String())

	require.Error(t, n.Scan(42))

	v, err := Some(MustParseDate("2025-06-15")).Value()
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", v)

	v, err = NullDate{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
