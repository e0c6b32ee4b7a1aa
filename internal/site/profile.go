// Package site adapts a driver session to the workflow's Page: it loads the
// listing, applies search filters, extracts candidates and recognises the
// confirmation page. Everything page specific lives in a Profile.
package site

import (
	"strings"
	"time"

	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/workflow"
)

// FilterControls locate the search form. Option locators may contain the
// placeholder {value}, replaced by the option being toggled.
type FilterControls struct {
	Open           []driver.Locator
	CityInput      []driver.Locator
	CityConfirm    []driver.Locator
	HoursMin       []driver.Locator
	HoursMax       []driver.Locator
	Option         []driver.Locator
	StartDateInput []driver.Locator
	Submit         []driver.Locator
}

func (fc FilterControls) option(value string) []driver.Locator {
	out := make([]driver.Locator, 0, len(fc.Option))
	for _, l := range fc.Option {
		l.Value = strings.ReplaceAll(l.Value, "{value}", value)
		out = append(out, l)
	}
	return out
}

// Profile describes one job site.
type Profile struct {
	SearchURL string

	Cards    []driver.Locator
	Title    []driver.Locator
	Location []driver.Locator
	Schedule []driver.Locator
	Pay      []driver.Locator
	// IDAttributes are read from the card, in order, for a native id.
	IDAttributes []string

	Success             []driver.Locator
	SuccessURLFragments []string

	Filters FilterControls
	Targets workflow.Targets

	// SettleDelay is waited after navigation and filtering.
	SettleDelay time.Duration
}

func css(sels ...string) []driver.Locator {
	out := make([]driver.Locator, 0, len(sels))
	for _, s := range sels {
		out = append(out, driver.CSS(s))
	}
	return out
}

func buttonsLabelled(labels ...string) []driver.Locator {
	out := make([]driver.Locator, 0, len(labels))
	for _, l := range labels {
		out = append(out, driver.XPath(
			"//button[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '"+strings.ToLower(l)+"')]"))
	}
	return out
}

// DefaultProfile returns locators for a hiring portal built from the common
// job-card component library.
func DefaultProfile(searchURL string) Profile {
	return Profile{
		SearchURL: searchURL,

		Cards: css(
			"div[data-test-id='JobCard']",
			".job-card",
			"[data-testid*='JobCard']",
			"div[class*='job'][class*='card']",
			"[role='listitem']",
		),
		Title:        css("strong", ".job-title", "h3", "h4", "[data-testid*='title']"),
		Location:     css(".location", "[data-testid*='location']", ".job-location"),
		Schedule:     css(".schedule", "[data-testid*='schedule']", ".time", ".shift-time"),
		Pay:          css(".pay", ".rate", "[data-testid*='pay']", ".wage"),
		IDAttributes: []string{"data-job-id", "data-testid", "id"},

		Success: append(
			css(".success-message", ".confirmation", "[data-test-id='ApplicationSuccess']", "[data-testid*='success']"),
			driver.XPath("//*[contains(translate(., 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'application submitted')]"),
		),
		SuccessURLFragments: []string{"confirmation", "success", "thank-you", "application-complete"},

		Filters: FilterControls{
			Open:           buttonsLabelled("filter"),
			CityInput:      css("input[data-test-id='zipcodeOrCitySearchInput']", "input[placeholder*='city' i]", "input[name='location']"),
			CityConfirm:    css("[role='option']", ".autocomplete-item"),
			HoursMin:       css("input[name='minHours']"),
			HoursMax:       css("input[name='maxHours']"),
			Option:         []driver.Locator{driver.XPath("//label[contains(normalize-space(.), '{value}')]")},
			StartDateInput: css("input[name='startDate']", "input[type='date']"),
			Submit:         buttonsLabelled("show results", "apply filters"),
		},

		Targets: workflow.Targets{
			ModalOpen: css(
				"div[class*='jobDetailScheduleDropdown']",
				"[data-test-component='StencilReactRow'][tabindex='0']",
			),
			ModalOption: css(
				"[data-test-component='StencilFlyoutBody'] [role='radio']",
				"[data-test-component='StencilFlyoutBody'] [role='option']",
			),
			Apply: append(
				css("button[data-test-id='jobDetailApplyButtonDesktop']", "button[class*='primary']", "button[class*='cta']"),
				buttonsLabelled("apply")...,
			),
			Proceed: buttonsLabelled("next", "continue", "create application", "submit", "confirm", "apply now"),
		},

		SettleDelay: 2 * time.Second,
	}
}
