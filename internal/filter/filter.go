// Package filter models the search filters applied before discovery as a
// closed set of variants. Each kind carries its own typed payload and is
// dispatched through Visit.
package filter

import (
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/example/shift-scheduler/internal/errors"
)

// Kind names a filter variant in configuration.
type Kind string

const (
	KindCity       Kind = "city"
	KindHours      Kind = "hours"
	KindSchedule   Kind = "schedule"
	KindRole       Kind = "role"
	KindEmployment Kind = "employment"
	KindLanguage   Kind = "language"
	KindStartDate  Kind = "start_date"
)

// Filter is implemented only by the variant types in this package.
type Filter interface {
	Kind() Kind
	validate() error
}

type City struct {
	Name string `yaml:"name"`
}

// Hours bounds the weekly hours of a shift. Zero Max means unbounded.
type Hours struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type Schedule struct {
	Slots []string `yaml:"slots"`
}

type Role struct {
	Names []string `yaml:"names"`
}

type Employment struct {
	Length string `yaml:"length"`
}

type Language struct {
	Code string `yaml:"code"`
}

type StartDate struct {
	On time.Time
}

func (City) Kind() Kind       { return KindCity }
func (Hours) Kind() Kind      { return KindHours }
func (Schedule) Kind() Kind   { return KindSchedule }
func (Role) Kind() Kind       { return KindRole }
func (Employment) Kind() Kind { return KindEmployment }
func (Language) Kind() Kind   { return KindLanguage }
func (StartDate) Kind() Kind  { return KindStartDate }

func (f City) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.InvalidConfigf("city filter: name required")
	}
	return nil
}

func (f Hours) validate() error {
	if f.Min < 0 || f.Max < 0 {
		return errors.InvalidConfigf("hours filter: negative bound")
	}
	if f.Max != 0 && f.Max < f.Min {
		return errors.InvalidConfigf("hours filter: max %d below min %d", f.Max, f.Min)
	}
	return nil
}

func (f Schedule) validate() error {
	if len(f.Slots) == 0 {
		return errors.InvalidConfigf("schedule filter: at least one slot required")
	}
	return nil
}

func (f Role) validate() error {
	if len(f.Names) == 0 {
		return errors.InvalidConfigf("role filter: at least one name required")
	}
	return nil
}

func (f Employment) validate() error {
	if strings.TrimSpace(f.Length) == "" {
		return errors.InvalidConfigf("employment filter: length required")
	}
	return nil
}

func (f Language) validate() error {
	if strings.TrimSpace(f.Code) == "" {
		return errors.InvalidConfigf("language filter: code required")
	}
	return nil
}

func (f StartDate) validate() error {
	if f.On.IsZero() {
		return errors.InvalidConfigf("start_date filter: date required")
	}
	return nil
}

// Visitor receives one call per filter, matching its variant.
type Visitor interface {
	City(City) error
	Hours(Hours) error
	Schedule(Schedule) error
	Role(Role) error
	Employment(Employment) error
	Language(Language) error
	StartDate(StartDate) error
}

// Visit dispatches f to the matching Visitor method.
func Visit(f Filter, v Visitor) error {
	switch f := f.(type) {
	case City:
		return v.City(f)
	case Hours:
		return v.Hours(f)
	case Schedule:
		return v.Schedule(f)
	case Role:
		return v.Role(f)
	case Employment:
		return v.Employment(f)
	case Language:
		return v.Language(f)
	case StartDate:
		return v.StartDate(f)
	default:
		return errors.Newf("unknown filter %T", f)
	}
}

// Set is an ordered list of filters as written in the filters file.
type Set []Filter

// WithoutKind returns the filters whose kind differs from k.
func (s Set) WithoutKind(k Kind) Set {
	out := make(Set, 0, len(s))
	for _, f := range s {
		if f.Kind() != k {
			out = append(out, f)
		}
	}
	return out
}

// UnmarshalYAML decodes a sequence of {kind: ..., payload...} mappings.
func (s *Set) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return errors.InvalidConfigf("filters: expected a list at line %d", node.Line)
	}
	out := make(Set, 0, len(node.Content))
	for _, item := range node.Content {
		f, err := decodeOne(item)
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	*s = out
	return nil
}

func decodeOne(node *yaml.Node) (Filter, error) {
	var head struct {
		Kind Kind   `yaml:"kind"`
		Date string `yaml:"date"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, errors.Wrapf(err, "filters: line %d", node.Line)
	}

	var (
		f   Filter
		err error
	)
	switch head.Kind {
	case KindCity:
		f, err = decodeAs[City](node)
	case KindHours:
		f, err = decodeAs[Hours](node)
	case KindSchedule:
		f, err = decodeAs[Schedule](node)
	case KindRole:
		f, err = decodeAs[Role](node)
	case KindEmployment:
		f, err = decodeAs[Employment](node)
	case KindLanguage:
		f, err = decodeAs[Language](node)
	case KindStartDate:
		on, perr := time.Parse(time.DateOnly, strings.TrimSpace(head.Date))
		if perr != nil {
			return nil, errors.InvalidConfigf("filters: start_date at line %d: want YYYY-MM-DD, got %q", node.Line, head.Date)
		}
		f = StartDate{On: on}
	case "":
		return nil, errors.InvalidConfigf("filters: missing kind at line %d", node.Line)
	default:
		return nil, errors.InvalidConfigf("filters: unknown kind %q at line %d", head.Kind, node.Line)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "filters: %s at line %d", head.Kind, node.Line)
	}

	if err := f.validate(); err != nil {
		return nil, errors.Wrapf(err, "line %d", node.Line)
	}
	return f, nil
}

func decodeAs[T Filter](node *yaml.Node) (Filter, error) {
	var v T
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type document struct {
	Filters Set `yaml:"filters"`
}

// Parse decodes a filters document.
func Parse(data []byte) (Set, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse filters")
	}
	return doc.Filters, nil
}

// Load reads the filters file at path. An empty path yields no filters.
func Load(fs afero.Fs, path string) (Set, error) {
	if path == "" {
		return nil, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read filters file %s", path)
	}
	return Parse(data)
}
