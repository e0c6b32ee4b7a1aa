package site

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/filter"
	"github.com/example/shift-scheduler/internal/shift"
)

// Page implements workflow.Page on top of a driver session.
type Page struct {
	exec    *action.Executor
	drv     driver.Driver
	profile Profile
	filters filter.Set
	log     *zap.SugaredLogger
	now     func() time.Time

	// card is the locator that matched during the last discovery.
	card driver.Locator
}

func NewPage(exec *action.Executor, profile Profile, filters filter.Set, log *zap.SugaredLogger) *Page {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Page{
		exec:    exec,
		drv:     exec.Driver(),
		profile: profile,
		filters: filters,
		log:     log,
		now:     time.Now,
	}
}

// Discover opens the listing for p and extracts every visible card.
func (p *Page) Discover(ctx context.Context, part shift.Partition) ([]shift.Candidate, error) {
	if err := p.open(ctx, part); err != nil {
		return nil, err
	}

	var cards []driver.Element
	for _, loc := range p.profile.Cards {
		els, err := p.drv.FindAll(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "find job cards")
			}
			p.log.Debugw("card locator failed", "locator", loc.String(), "error", err)
			continue
		}
		if len(els) > 0 {
			p.card = loc
			cards = els
			break
		}
	}
	if len(cards) == 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	out := make([]shift.Candidate, 0, len(cards))
	for idx, card := range cards {
		c := p.extract(ctx, card, idx)
		if seen[c.ID] {
			c.ID = shift.SynthesizeID(c.Title, c.Location, c.Schedule+"#"+strconv.Itoa(idx))
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}

func (p *Page) extract(ctx context.Context, card driver.Element, idx int) shift.Candidate {
	c := shift.Candidate{
		Title:        p.textWithin(ctx, card, p.profile.Title),
		Location:     p.textWithin(ctx, card, p.profile.Location),
		Schedule:     p.textWithin(ctx, card, p.profile.Schedule),
		PayRate:      p.textWithin(ctx, card, p.profile.Pay),
		DiscoveredAt: p.now(),
		SourceIndex:  idx,
	}
	if c.Title == "" {
		c.Title = "Shift " + strconv.Itoa(idx+1)
	}
	for _, attr := range p.profile.IDAttributes {
		v, err := p.drv.Attribute(ctx, card, attr)
		if err == nil && strings.TrimSpace(v) != "" {
			c.ID = strings.TrimSpace(v)
			break
		}
	}
	if c.ID == "" {
		c.ID = shift.SynthesizeID(c.Title, c.Location, c.Schedule)
	}
	return c
}

func (p *Page) textWithin(ctx context.Context, parent driver.Element, locs []driver.Locator) string {
	for _, loc := range locs {
		els, err := p.drv.FindWithin(ctx, parent, loc)
		if err != nil || len(els) == 0 {
			continue
		}
		text, err := p.drv.Text(ctx, els[0])
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// CandidateTarget pins the card locator from the last discovery to c.
func (p *Page) CandidateTarget(c shift.Candidate) []driver.Locator {
	if p.card.Value == "" {
		return nil
	}
	return []driver.Locator{p.card.At(c.SourceIndex)}
}

// Confirmed reports a visible success element or a confirmation URL.
func (p *Page) Confirmed(ctx context.Context) bool {
	if p.exec.Visible(ctx, p.profile.Success) {
		return true
	}
	u, err := p.drv.CurrentURL(ctx)
	if err != nil {
		return false
	}
	u = strings.ToLower(u)
	for _, frag := range p.profile.SuccessURLFragments {
		if frag != "" && strings.Contains(u, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}

// Restore reloads the filtered listing so pinned card positions are valid again.
func (p *Page) Restore(ctx context.Context, part shift.Partition) error {
	return p.open(ctx, part)
}

func (p *Page) open(ctx context.Context, part shift.Partition) error {
	if p.profile.SearchURL == "" {
		return errors.InvalidConfigf("search url not configured")
	}
	if err := p.drv.Navigate(ctx, p.profile.SearchURL); err != nil {
		return errors.Wrapf(err, "navigate to %s", p.profile.SearchURL)
	}
	if err := p.settle(ctx); err != nil {
		return err
	}

	set := p.filtersFor(part)
	if len(set) == 0 {
		return nil
	}
	applier := &applier{exec: p.exec, controls: p.profile.Filters, ctx: ctx}
	applier.click(p.profile.Filters.Open)
	for _, f := range set {
		if err := filter.Visit(f, applier); err != nil {
			p.log.Warnw("filter not applied", "kind", f.Kind(), "partition", part.String(), "error", err)
		}
	}
	applier.click(p.profile.Filters.Submit)
	return p.settle(ctx)
}

// filtersFor replaces configured city filters with the partition's city.
func (p *Page) filtersFor(part shift.Partition) filter.Set {
	if part.Name == "" {
		return p.filters
	}
	return append(filter.Set{filter.City{Name: part.Name}}, p.filters.WithoutKind(filter.KindCity)...)
}

func (p *Page) settle(ctx context.Context) error {
	if p.profile.SettleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.profile.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for page to settle")
	case <-t.C:
		return nil
	}
}
