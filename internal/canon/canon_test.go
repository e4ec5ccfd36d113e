package canon

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/nssync/internal/identity"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		opts Options
		want string
	}{
		{"lowercases", "JDoe", Options{}, "jdoe"},
		{"drops disallowed", "J. Doe", Options{}, "j.doe"},
		{"keeps punctuation set", "a_b-c.d", Options{}, "a_b-c.d"},
		{"strips suffix", "jdoe_example_org", Options{Suffix: "_example_org"}, "jdoe"},
		{"suffix case-insensitive", "JDOE_Example_Org", Options{Suffix: "_example_org"}, "jdoe"},
		{"suffix only at end", "x_example_org_y", Options{Suffix: "_example_org"}, "x_example_org_y"},
		{"trims leading dash", "--root", Options{}, "root"},
		{"truncates", strings.Repeat("a", 40), Options{}, strings.Repeat("a", 32)},
		{"custom max", "abcdef", Options{MaxLen: 4}, "abcd"},
		{"non ascii dropped", "zoë", Options{}, "zo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.raw, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Empty(t *testing.T) {
	for _, raw := range []string{"", "!!!", "_example_org", "---"} {
		_, err := Canonicalize(raw, Options{Suffix: "_example_org"})
		require.Error(t, err, raw)

		var inv *identity.InvalidNameError
		require.True(t, errors.As(err, &inv))
		assert.Equal(t, raw, inv.Raw)
		assert.ErrorIs(t, err, identity.ErrEmptyName)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	opts := Options{Suffix: "_corp_com"}
	a, err := Canonicalize("Alice.Smith_corp_com", opts)
	require.NoError(t, err)
	b, err := Canonicalize("Alice.Smith_corp_com", opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "alice.smith", a)
}

func TestNameFromEmail(t *testing.T) {
	assert.Equal(t, "team", NameFromEmail("team@example.org"))
	assert.Equal(t, "bare", NameFromEmail("bare"))
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]Candidate{
		{ExternalID: "b-2", Name: "team"},
		{ExternalID: "a-1", Name: "team"},
		{ExternalID: "c-3", Name: "solo"},
	}, 32)

	assert.Equal(t, map[string]string{
		"a-1": "team",
		"b-2": "team-1",
		"c-3": "solo",
	}, got)
}

func TestDedupe_SkipsTakenSuffix(t *testing.T) {
	got := Dedupe([]Candidate{
		{ExternalID: "1", Name: "team"},
		{ExternalID: "2", Name: "team-1"},
		{ExternalID: "3", Name: "team"},
	}, 32)

	assert.Equal(t, "team", got["1"])
	assert.Equal(t, "team-1", got["2"])
	assert.Equal(t, "team-2", got["3"])
}

func TestDedupe_RespectsMaxLen(t *testing.T) {
	base := strings.Repeat("x", 8)
	got := Dedupe([]Candidate{
		{ExternalID: "1", Name: base},
		{ExternalID: "2", Name: base},
	}, 8)

	assert.Equal(t, base, got["1"])
	assert.Equal(t, "xxxxxx-1", got["2"])
	assert.Len(t, got["2"], 8)
}

func TestDedupe_OrderIndependentOfInput(t *testing.T) {
	in := []Candidate{{"z", "n"}, {"y", "n"}, {"x", "n"}}
	rev := []Candidate{{"x", "n"}, {"y", "n"}, {"z", "n"}}
	assert.Equal(t, Dedupe(in, 32), Dedupe(rev, 32))
}

func TestDedupe_TinyMaxLenKeepsBase(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 12; i++ {
		cands = append(cands, Candidate{ExternalID: fmt.Sprintf("%02d", i), Name: "ab"})
	}
	got := Dedupe(cands, 2)

	seen := map[string]bool{}
	for _, name := range got {
		assert.False(t, strings.HasPrefix(name, "-"), name)
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
	assert.Equal(t, "ab", got["00"])
	assert.Equal(t, "a-1", got["01"])
	assert.Equal(t, "a-11", got["11"])
}

func TestUnique(t *testing.T) {
	taken := map[string]bool{"alice": true, "alice-1": true}
	assert.Equal(t, "alice-2", Unique("alice", taken, 32))
	assert.Equal(t, "bob", Unique("bob", taken, 32))
	assert.Equal(t, "bob-1", Unique("bob", taken, 32))
	assert.True(t, taken["alice-2"])
}
