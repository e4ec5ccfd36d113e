package canon

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hnrobert/nssync/internal/identity"
)

// DefaultMaxLen is the default Linux login name limit.
const DefaultMaxLen = 32

// MinMaxLen is the smallest usable MaxLen: room for a base character and a
// collision suffix.
const MinMaxLen = 8

type Options struct {
	MaxLen int
	// Suffix is removed from the lower-cased value before filtering,
	// e.g. "_example_org" for directory usernames derived from addresses.
	Suffix string
}

func (o Options) maxLen() int {
	if o.MaxLen <= 0 {
		return DefaultMaxLen
	}
	return o.MaxLen
}

func allowed(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-'
}

// Canonicalize turns a raw directory value into a POSIX name.
func Canonicalize(raw string, opts Options) (string, error) {
	name := strings.ToLower(raw)
	if s := strings.ToLower(opts.Suffix); s != "" {
		name = strings.TrimSuffix(name, s)
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if allowed(name[i]) {
			b.WriteByte(name[i])
		}
	}
	// Names starting with '-' are parsed as options by shadow-utils.
	out := strings.TrimLeft(b.String(), "-.")
	if max := opts.maxLen(); len(out) > max {
		out = out[:max]
	}
	if out == "" {
		return "", &identity.InvalidNameError{Raw: raw, Err: identity.ErrEmptyName}
	}
	return out, nil
}

// NameFromEmail returns the local part of an address, or the input when it
// has no '@'.
func NameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// Candidate is one entity competing for a name.
type Candidate struct {
	ExternalID string
	Name       string
}

// Dedupe resolves name collisions. Candidates are processed in ascending
// external id order; the first keeps its name and later ones get "-1", "-2"
// and so on. The result maps external id to final name.
func Dedupe(cands []Candidate, maxLen int) map[string]string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	sorted := append([]Candidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExternalID < sorted[j].ExternalID })

	taken := make(map[string]bool, len(sorted))
	out := make(map[string]string, len(sorted))
	for _, c := range sorted {
		out[c.ExternalID] = Unique(c.Name, taken, maxLen)
	}
	return out
}

// Unique returns base, or base with the first free "-N" suffix, and marks
// the result as taken.
func Unique(base string, taken map[string]bool, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	name := base
	for n := 1; taken[name]; n++ {
		name = withSuffix(base, n, maxLen)
	}
	taken[name] = true
	return name
}

func withSuffix(base string, n, maxLen int) string {
	suffix := "-" + strconv.Itoa(n)
	if len(base)+len(suffix) > maxLen {
		// Keep one base character so the name never starts with '-'.
		keep := max(maxLen-len(suffix), 1)
		base = base[:min(keep, len(base))]
	}
	return base + suffix
}
