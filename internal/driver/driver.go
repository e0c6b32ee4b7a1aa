// Package driver declares the browser capability the booking core consumes.
// The core never interprets a Locator; it only hands locators back to the
// driver in priority order.
package driver

import (
	"context"
	"fmt"

	"github.com/example/shift-scheduler/internal/errors"
)

// Locator strategies understood by WebDriver-compatible backends.
const (
	ByCSS      = "css selector"
	ByXPath    = "xpath"
	ByLinkText = "link text"
	ByPartial  = "partial link text"
)

// Locator describes one way to find a control. Nth pins the n-th match
// (one based); zero means "first usable match".
type Locator struct {
	By    string `mapstructure:"by" yaml:"by" json:"by"`
	Value string `mapstructure:"value" yaml:"value" json:"value"`
	Nth   int    `mapstructure:"nth" yaml:"nth" json:"nth"`
}

// CSS is shorthand for a CSS locator that accepts the first usable match.
func CSS(sel string) Locator { return Locator{By: ByCSS, Value: sel} }

// XPath is shorthand for an XPath locator that accepts the first usable match.
func XPath(expr string) Locator { return Locator{By: ByXPath, Value: expr} }

// At returns a copy of l pinned to the match at the zero based index i.
func (l Locator) At(i int) Locator {
	l.Nth = i + 1
	return l
}

func (l Locator) String() string {
	if l.Nth > 0 {
		return fmt.Sprintf("%s=%q[%d]", l.By, l.Value, l.Nth)
	}
	return fmt.Sprintf("%s=%q", l.By, l.Value)
}

// Element is an opaque handle to a control found by the driver.
type Element struct {
	ID string
}

// Cookie is a browser cookie as exchanged with the session vault.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
}

// Driver is the browser capability: query elements, report their state,
// interact with them, navigate and read the current location.
type Driver interface {
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	FindWithin(ctx context.Context, parent Element, loc Locator) ([]Element, error)
	Displayed(ctx context.Context, el Element) (bool, error)
	Enabled(ctx context.Context, el Element) (bool, error)
	Text(ctx context.Context, el Element) (string, error)
	Attribute(ctx context.Context, el Element, name string) (string, error)

	Click(ctx context.Context, el Element) error
	SendKeys(ctx context.Context, el Element, text string) error
	Clear(ctx context.Context, el Element) error
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)
	PointerClick(ctx context.Context, el Element) error

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookie(ctx context.Context, c Cookie) error

	Close(ctx context.Context) error
}

// ErrNoSuchElement is returned by drivers when a handle went stale or a
// lookup matched nothing.
var ErrNoSuchElement = errors.Mark(errors.New("no such element"), errors.ErrNotFound)

// ScriptArg converts an element to the form drivers expect inside
// ExecuteScript arguments.
func ScriptArg(el Element) map[string]string {
	return map[string]string{ElementKey: el.ID}
}

// ElementKey is the W3C web element identifier used in script arguments.
const ElementKey = "element-6066-11e4-a52e-4f735466cecf"
