// Package drivertest provides an in-memory driver.Driver for tests. Pages are
// described as nodes registered under locators; clicks can run callbacks to
// simulate page transitions.
package drivertest

import (
	"context"
	"strconv"
	"sync"

	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
)

// Node is one element on the fake page.
type Node struct {
	ID       string
	Text     string
	Attrs    map[string]string
	Hidden   bool
	Disabled bool
	Typed    string

	// ClickErr fails native clicks; ScriptErr and PointerErr fail the other strategies.
	ClickErr   error
	ScriptErr  error
	PointerErr error

	// OnActivate runs after any successful activation of the node.
	OnActivate func(f *Fake)

	children map[string][]*Node
}

// Child registers child under loc relative to n and returns child.
func (n *Node) Child(loc driver.Locator, child *Node) *Node {
	if n.children == nil {
		n.children = map[string][]*Node{}
	}
	n.children[key(loc)] = append(n.children[key(loc)], child)
	return child
}

// Fake is a concurrency-safe scripted driver.
type Fake struct {
	mu sync.Mutex

	nodes   map[string][]*Node
	byID    map[string]*Node
	url     string
	cookies []driver.Cookie
	seq     int

	FindErr     error
	NavigateErr error
	FindPanic   any

	FindCalls   int
	Activations []string
	Navigations []string
	Closed      bool
}

func New() *Fake {
	return &Fake{nodes: map[string][]*Node{}, byID: map[string]*Node{}}
}

func key(loc driver.Locator) string { return loc.By + "|" + loc.Value }

// Add registers n as a match for loc and returns it.
func (f *Fake) Add(loc driver.Locator, n *Node) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.register(n)
	f.nodes[key(loc)] = append(f.nodes[key(loc)], n)
	return n
}

// Remove drops every match registered for loc.
func (f *Fake) Remove(loc driver.Locator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, key(loc))
}

// Reset drops every registered node.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = map[string][]*Node{}
}

// SetURL changes the current location.
func (f *Fake) SetURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = u
}

func (f *Fake) register(n *Node) {
	if n.ID == "" {
		f.seq++
		n.ID = "node-" + strconv.Itoa(f.seq)
	}
	f.byID[n.ID] = n
	for _, kids := range n.children {
		for _, k := range kids {
			f.register(k)
		}
	}
}

func (f *Fake) node(el driver.Element) (*Node, error) {
	n, ok := f.byID[el.ID]
	if !ok {
		return nil, driver.ErrNoSuchElement
	}
	return n, nil
}

func elements(ns []*Node) []driver.Element {
	out := make([]driver.Element, 0, len(ns))
	for _, n := range ns {
		out = append(out, driver.Element{ID: n.ID})
	}
	return out
}

func (f *Fake) FindAll(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FindCalls++
	if f.FindPanic != nil {
		panic(f.FindPanic)
	}
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	return elements(f.nodes[key(loc)]), nil
}

func (f *Fake) FindWithin(ctx context.Context, parent driver.Element, loc driver.Locator) ([]driver.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(parent)
	if err != nil {
		return nil, err
	}
	for _, kids := range n.children {
		for _, k := range kids {
			f.byID[k.ID] = k
		}
	}
	return elements(n.children[key(loc)]), nil
}

func (f *Fake) Displayed(ctx context.Context, el driver.Element) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

func (f *Fake) Enabled(ctx context.Context, el driver.Element) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return false, err
	}
	return !n.Disabled, nil
}

func (f *Fake) Text(ctx context.Context, el driver.Element) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (f *Fake) Attribute(ctx context.Context, el driver.Element, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return "", err
	}
	return n.Attrs[name], nil
}

func (f *Fake) activate(el driver.Element, how string, pick func(*Node) error) error {
	f.mu.Lock()
	n, err := f.node(el)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if err := pick(n); err != nil {
		f.mu.Unlock()
		return err
	}
	f.Activations = append(f.Activations, how+":"+n.ID)
	cb := n.OnActivate
	f.mu.Unlock()

	if cb != nil {
		cb(f)
	}
	return nil
}

func (f *Fake) Click(ctx context.Context, el driver.Element) error {
	return f.activate(el, "click", func(n *Node) error { return n.ClickErr })
}

func (f *Fake) PointerClick(ctx context.Context, el driver.Element) error {
	return f.activate(el, "pointer", func(n *Node) error { return n.PointerErr })
}

func (f *Fake) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	for _, a := range args {
		ref, ok := a.(map[string]string)
		if !ok {
			continue
		}
		el := driver.Element{ID: ref[driver.ElementKey]}
		return nil, f.activate(el, "script", func(n *Node) error { return n.ScriptErr })
	}
	return nil, nil
}

func (f *Fake) SendKeys(ctx context.Context, el driver.Element, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return err
	}
	n.Typed += text
	f.Activations = append(f.Activations, "type:"+n.ID)
	return nil
}

func (f *Fake) Clear(ctx context.Context, el driver.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return err
	}
	n.Typed = ""
	return nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.url = url
	f.Navigations = append(f.Navigations, url)
	return nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Cookie(nil), f.cookies...), nil
}

func (f *Fake) AddCookie(ctx context.Context, c driver.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Name == "" {
		return errors.New("cookie name required")
	}
	f.cookies = append(f.cookies, c)
	return nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var _ driver.Driver = (*Fake)(nil)
