package site

import (
	"context"
	"strconv"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/filter"
)

// applier drives the search form, one Visitor method per filter kind.
type applier struct {
	exec     *action.Executor
	controls FilterControls
	ctx      context.Context
}

const filterBudget = 2

func (a *applier) click(targets []driver.Locator) bool {
	if len(targets) == 0 {
		return false
	}
	return a.exec.ResolveAndActivate(a.ctx, targets, action.Clicks(), filterBudget)
}

func (a *applier) typeInto(targets []driver.Locator, text, what string) error {
	if len(targets) == 0 {
		return errors.Wrapf(errors.ErrNotFound, "no %s control configured", what)
	}
	if !a.exec.ResolveAndActivate(a.ctx, targets, []action.Strategy{action.Type(text)}, filterBudget) {
		return errors.Wrapf(errors.ErrNotFound, "%s control not usable", what)
	}
	return nil
}

func (a *applier) toggle(values []string, what string) error {
	var missed []string
	for _, v := range values {
		if !a.click(a.controls.option(v)) {
			missed = append(missed, v)
		}
	}
	if len(missed) > 0 {
		return errors.Wrapf(errors.ErrNotFound, "%s options not found: %v", what, missed)
	}
	return nil
}

func (a *applier) City(f filter.City) error {
	if err := a.typeInto(a.controls.CityInput, f.Name, "city"); err != nil {
		return err
	}
	a.click(a.controls.CityConfirm)
	return nil
}

func (a *applier) Hours(f filter.Hours) error {
	if f.Min > 0 {
		if err := a.typeInto(a.controls.HoursMin, strconv.Itoa(f.Min), "minimum hours"); err != nil {
			return err
		}
	}
	if f.Max > 0 {
		return a.typeInto(a.controls.HoursMax, strconv.Itoa(f.Max), "maximum hours")
	}
	return nil
}

func (a *applier) Schedule(f filter.Schedule) error {
	return a.toggle(f.Slots, "schedule")
}

func (a *applier) Role(f filter.Role) error {
	return a.toggle(f.Names, "role")
}

func (a *applier) Employment(f filter.Employment) error {
	return a.toggle([]string{f.Length}, "employment")
}

func (a *applier) Language(f filter.Language) error {
	return a.toggle([]string{f.Code}, "language")
}

func (a *applier) StartDate(f filter.StartDate) error {
	return a.typeInto(a.controls.StartDateInput, f.On.Format("01/02/2006"), "start date")
}
