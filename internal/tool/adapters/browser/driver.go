package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// ErrInteractionUnsupported marks verbs a driver cannot perform; the
// adapter turns it into a requires_user_action failure instead of
// retrying.
var ErrInteractionUnsupported = errors.New("interaction not supported by this driver")

// Page is the driver's view of the current document.
type Page struct {
	URL   string
	Title string
	Body  string
}

// Driver abstracts the browsing backend. The default implementation is
// plain HTTP; a real browser automation driver can be swapped in.
type Driver interface {
	Navigate(ctx context.Context, pageURL string) (*Page, error)
	Download(ctx context.Context, fileURL, savePath string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Screenshot(ctx context.Context, savePath string) error
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTTPDriver fetches pages over plain HTTP with per-domain cookie
// persistence. Interaction verbs are unsupported.
type HTTPDriver struct {
	client   *http.Client
	jar      *cookiejar.Jar
	stateDir string
}

// NewHTTPDriver builds the default driver; stateDir is the browser_state
// directory holding per-domain cookie files.
func NewHTTPDriver(stateDir string) (*HTTPDriver, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create browser state dir: %w", err)
	}
	return &HTTPDriver{
		client:   &http.Client{Jar: jar, Timeout: 30 * time.Second},
		jar:      jar,
		stateDir: stateDir,
	}, nil
}

type storedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (d *HTTPDriver) cookiePath(domain string) string {
	return filepath.Join(d.stateDir, domain, "cookies.json")
}

func (d *HTTPDriver) loadCookies(pageURL *url.URL) {
	data, err := os.ReadFile(d.cookiePath(pageURL.Hostname()))
	if err != nil {
		return
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain})
	}
	d.jar.SetCookies(pageURL, cookies)
}

func (d *HTTPDriver) saveCookies(pageURL *url.URL) error {
	cookies := d.jar.Cookies(pageURL)
	if len(cookies) == 0 {
		return nil
	}
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain})
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	path := d.cookiePath(pageURL.Hostname())
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	// Cookie files hold session material; keep them private.
	return os.Chmod(path, 0o600)
}

func (d *HTTPDriver) Navigate(ctx context.Context, pageURL string) (*Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid url: %s", pageURL)
	}
	d.loadCookies(parsed)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: %s", pageURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}
	if err := d.saveCookies(parsed); err != nil {
		return nil, fmt.Errorf("persist cookies: %w", err)
	}

	page := &Page{URL: pageURL, Body: string(body)}
	if m := titlePattern.FindStringSubmatch(page.Body); m != nil {
		page.Title = strings.TrimSpace(m[1])
	}
	return page, nil
}

func (d *HTTPDriver) Download(ctx context.Context, fileURL, savePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", fileURL, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(savePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(savePath)
		return err
	}
	return nil
}

func (d *HTTPDriver) Click(context.Context, string) error {
	return ErrInteractionUnsupported
}

func (d *HTTPDriver) Fill(context.Context, string, string) error {
	return ErrInteractionUnsupported
}

func (d *HTTPDriver) Screenshot(context.Context, string) error {
	return ErrInteractionUnsupported
}
