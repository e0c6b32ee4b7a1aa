// Package shift defines the values that flow through one booking pass: the
// partition being searched and the candidates discovered in it.
package shift

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Partition is an independent slice of the search space, usually a city.
// The zero value means "no partition filter".
type Partition struct {
	Name string
}

func (p Partition) String() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

// Partitions turns configured names into partitions, falling back to a single
// unfiltered partition when none are configured.
func Partitions(names []string) []Partition {
	var out []Partition
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, Partition{Name: n})
	}
	if len(out) == 0 {
		return []Partition{{}}
	}
	return out
}

// Candidate is a shift discovered on one pass. It is never mutated after
// discovery; SourceIndex is only meaningful within the pass that produced it.
type Candidate struct {
	ID           string
	Title        string
	Location     string
	Schedule     string
	PayRate      string
	DiscoveredAt time.Time
	SourceIndex  int
}

func (c Candidate) String() string {
	if c.Title == "" {
		return c.ID
	}
	return c.ID + " (" + c.Title + ")"
}

var candidateNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("shiftsched/candidate"))

// SynthesizeID derives a stable id from the visible shift details. The same
// title, location and schedule always yield the same id, regardless of case,
// Unicode composition or surrounding whitespace.
func SynthesizeID(title, location, schedule string) string {
	key := Normalize(title) + "\x1f" + Normalize(location) + "\x1f" + Normalize(schedule)
	return "shift-" + uuid.NewSHA1(candidateNamespace, []byte(key)).String()
}

// Normalize folds case, applies NFKC and collapses runs of whitespace so text
// scraped from the page compares reliably.
func Normalize(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Matches reports whether text contains needle after normalization.
func Matches(text, needle string) bool {
	n := Normalize(needle)
	return n != "" && strings.Contains(Normalize(text), n)
}
