// Package webdriver is a driver.Driver speaking the W3C WebDriver protocol
// to chromedriver, geckodriver or a Selenium grid.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
)

// Options configures a new browser session.
type Options struct {
	// URL is the remote end, e.g. http://localhost:4444.
	URL      string
	Browser  string
	Headless bool
	// Args are extra browser command line switches.
	Args []string
	// CommandTimeout bounds every protocol request.
	CommandTimeout time.Duration
	// StartRetries is how often session creation is retried while the
	// remote end is still coming up.
	StartRetries int
}

// Client is one live WebDriver session.
type Client struct {
	base      string
	sessionID string
	hc        *http.Client
	log       *zap.SugaredLogger
}

var _ driver.Driver = (*Client)(nil)

// Start opens a new browser session.
func Start(ctx context.Context, opts Options, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.URL == "" {
		return nil, errors.InvalidConfigf("webdriver url is required")
	}
	if opts.Browser == "" {
		opts.Browser = "chrome"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.StartRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 2 * opts.CommandTimeout
	rc.Logger = nil
	// Only connection failures are retried; a remote that answers has
	// decided about the session.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	c := &Client{
		base: strings.TrimRight(opts.URL, "/"),
		hc:   &http.Client{Timeout: opts.CommandTimeout},
		log:  log,
	}

	body, err := json.Marshal(map[string]any{"capabilities": map[string]any{"alwaysMatch": capabilities(opts)}})
	if err != nil {
		return nil, errors.Wrap(err, "encode capabilities")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"/session", body)
	if err != nil {
		return nil, errors.Wrap(err, "build session request")
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := rc.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "connect to webdriver at %s", c.base), errors.ErrUnavailable)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read session response")
	}

	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeValue(res.StatusCode, raw, &created); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	if created.SessionID == "" {
		return nil, errors.New("create session: remote returned no session id")
	}
	c.sessionID = created.SessionID
	log.Infow("browser session started", "browser", opts.Browser, "headless", opts.Headless, "session", c.sessionID)
	return c, nil
}

func capabilities(opts Options) map[string]any {
	caps := map[string]any{"browserName": opts.Browser}
	args := append([]string(nil), opts.Args...)
	switch opts.Browser {
	case "firefox":
		if opts.Headless {
			args = append(args, "-headless")
		}
		caps["moz:firefoxOptions"] = map[string]any{"args": args}
	default:
		if opts.Headless {
			args = append(args, "--headless=new", "--disable-gpu")
		}
		args = append(args, "--no-sandbox", "--disable-dev-shm-usage", "--window-size=1920,1080")
		caps["goog:chromeOptions"] = map[string]any{"args": args}
	}
	return caps
}

// SessionID identifies the remote session.
func (c *Client) SessionID() string { return c.sessionID }

// wireError is the error object of a failed command.
type wireError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func decodeValue(status int, raw []byte, out any) error {
	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= 400 {
			return errors.Mark(errors.Newf("webdriver status %d", status), errors.ErrUnavailable)
		}
		return errors.Wrap(err, "decode webdriver response")
	}
	if status >= 400 {
		var we wireError
		_ = json.Unmarshal(env.Value, &we)
		return classify(status, we)
	}
	if out == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return errors.Wrap(err, "decode webdriver value")
	}
	return nil
}

func classify(status int, we wireError) error {
	msg := we.Message
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	switch we.Code {
	case "no such element", "stale element reference", "element not interactable", "detached shadow root":
		return errors.WithMessage(driver.ErrNoSuchElement, we.Code+": "+msg)
	case "invalid session id", "session not created", "no such window":
		return errors.Mark(errors.Newf("%s: %s", we.Code, msg), errors.ErrUnavailable)
	case "timeout", "script timeout":
		return errors.Mark(errors.Newf("%s: %s", we.Code, msg), errors.ErrTimeout)
	case "":
		return errors.Newf("webdriver status %d", status)
	default:
		return errors.Newf("%s: %s", we.Code, msg)
	}
}

// do sends one command. body may be nil; out receives the "value" member.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode command")
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/session/"+c.sessionID+path, rdr)
	if err != nil {
		return errors.Wrap(err, "build command")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Mark(errors.Wrapf(err, "%s %s", method, path), errors.ErrUnavailable)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "read command response")
	}
	return decodeValue(res.StatusCode, raw, out)
}

func elementPath(el driver.Element, suffix string) string {
	return "/element/" + url.PathEscape(el.ID) + suffix
}

func toElements(refs []map[string]string) []driver.Element {
	out := make([]driver.Element, 0, len(refs))
	for _, r := range refs {
		if id := r[driver.ElementKey]; id != "" {
			out = append(out, driver.Element{ID: id})
		}
	}
	return out
}

func (c *Client) FindAll(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	var refs []map[string]string
	if err := c.do(ctx, http.MethodPost, "/elements", map[string]string{"using": loc.By, "value": loc.Value}, &refs); err != nil {
		return nil, errors.Wrapf(err, "find %s", loc)
	}
	return toElements(refs), nil
}

func (c *Client) FindWithin(ctx context.Context, parent driver.Element, loc driver.Locator) ([]driver.Element, error) {
	var refs []map[string]string
	if err := c.do(ctx, http.MethodPost, elementPath(parent, "/elements"), map[string]string{"using": loc.By, "value": loc.Value}, &refs); err != nil {
		return nil, errors.Wrapf(err, "find %s within %s", loc, parent.ID)
	}
	return toElements(refs), nil
}

func (c *Client) Displayed(ctx context.Context, el driver.Element) (bool, error) {
	var v bool
	err := c.do(ctx, http.MethodGet, elementPath(el, "/displayed"), nil, &v)
	return v, err
}

func (c *Client) Enabled(ctx context.Context, el driver.Element) (bool, error) {
	var v bool
	err := c.do(ctx, http.MethodGet, elementPath(el, "/enabled"), nil, &v)
	return v, err
}

func (c *Client) Text(ctx context.Context, el driver.Element) (string, error) {
	var v string
	err := c.do(ctx, http.MethodGet, elementPath(el, "/text"), nil, &v)
	return v, err
}

// Attribute returns "" for attributes the element does not carry.
func (c *Client) Attribute(ctx context.Context, el driver.Element, name string) (string, error) {
	var v *string
	if err := c.do(ctx, http.MethodGet, elementPath(el, "/attribute/"+url.PathEscape(name)), nil, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (c *Client) Click(ctx context.Context, el driver.Element) error {
	return c.do(ctx, http.MethodPost, elementPath(el, "/click"), struct{}{}, nil)
}

func (c *Client) SendKeys(ctx context.Context, el driver.Element, text string) error {
	return c.do(ctx, http.MethodPost, elementPath(el, "/value"), map[string]string{"text": text}, nil)
}

func (c *Client) Clear(ctx context.Context, el driver.Element) error {
	return c.do(ctx, http.MethodPost, elementPath(el, "/clear"), struct{}{}, nil)
}

func (c *Client) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	var v any
	err := c.do(ctx, http.MethodPost, "/execute/sync", map[string]any{"script": script, "args": args}, &v)
	return v, err
}

// PointerClick moves a virtual mouse onto the element's centre and presses
// the primary button.
func (c *Client) PointerClick(ctx context.Context, el driver.Element) error {
	actions := map[string]any{"actions": []any{map[string]any{
		"type":       "pointer",
		"id":         "mouse",
		"parameters": map[string]string{"pointerType": "mouse"},
		"actions": []any{
			map[string]any{"type": "pointerMove", "duration": 100, "origin": driver.ScriptArg(el), "x": 0, "y": 0},
			map[string]any{"type": "pointerDown", "button": 0},
			map[string]any{"type": "pause", "duration": 50},
			map[string]any{"type": "pointerUp", "button": 0},
		},
	}}}
	err := c.do(ctx, http.MethodPost, "/actions", actions, nil)
	if relErr := c.do(ctx, http.MethodDelete, "/actions", nil, nil); relErr != nil && err == nil {
		c.log.Debugw("release pointer actions", "error", relErr)
	}
	return err
}

func (c *Client) Navigate(ctx context.Context, u string) error {
	if err := c.do(ctx, http.MethodPost, "/url", map[string]string{"url": u}, nil); err != nil {
		return errors.Wrapf(err, "navigate to %s", u)
	}
	return nil
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var v string
	err := c.do(ctx, http.MethodGet, "/url", nil, &v)
	return v, err
}

func (c *Client) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	var v []driver.Cookie
	err := c.do(ctx, http.MethodGet, "/cookie", nil, &v)
	return v, err
}

func (c *Client) AddCookie(ctx context.Context, ck driver.Cookie) error {
	return c.do(ctx, http.MethodPost, "/cookie", map[string]any{"cookie": ck}, nil)
}

// Close ends the session and the browser with it.
func (c *Client) Close(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "", nil, nil)
	c.log.Infow("browser session closed", "session", c.sessionID)
	c.sessionID = ""
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}
