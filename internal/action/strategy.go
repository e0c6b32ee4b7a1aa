package action

import (
	"context"

	"github.com/example/shift-scheduler/internal/driver"
)

// Strategy is one technique for activating a resolved control.
type Strategy interface {
	Name() string
	Activate(ctx context.Context, d driver.Driver, el driver.Element) error
}

type strategyFunc struct {
	name string
	fn   func(ctx context.Context, d driver.Driver, el driver.Element) error
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Activate(ctx context.Context, d driver.Driver, el driver.Element) error {
	return s.fn(ctx, d, el)
}

// NewStrategy adapts a function to a Strategy.
func NewStrategy(name string, fn func(ctx context.Context, d driver.Driver, el driver.Element) error) Strategy {
	return strategyFunc{name: name, fn: fn}
}

const scriptClick = `arguments[0].scrollIntoView({block: "center"}); arguments[0].click();`

var (
	// Direct uses the driver's native click.
	Direct = NewStrategy("direct", func(ctx context.Context, d driver.Driver, el driver.Element) error {
		return d.Click(ctx, el)
	})

	// Script clicks through injected JavaScript, which bypasses overlays that
	// intercept native clicks.
	Script = NewStrategy("script", func(ctx context.Context, d driver.Driver, el driver.Element) error {
		_, err := d.ExecuteScript(ctx, scriptClick, driver.ScriptArg(el))
		return err
	})

	// Pointer moves a simulated pointer to the element and presses it.
	Pointer = NewStrategy("pointer", func(ctx context.Context, d driver.Driver, el driver.Element) error {
		return d.PointerClick(ctx, el)
	})
)

// Clicks is the default ordered click fallback chain.
func Clicks() []Strategy {
	return []Strategy{Direct, Script, Pointer}
}

// Type clears the element and types text into it.
func Type(text string) Strategy {
	return NewStrategy("type", func(ctx context.Context, d driver.Driver, el driver.Element) error {
		if err := d.Clear(ctx, el); err != nil {
			return err
		}
		return d.SendKeys(ctx, el, text)
	})
}
