// Package browser implements the web step family over a pluggable
// driver. The default HTTP driver covers fetch-shaped verbs; interaction
// verbs degrade to user-action requests, and login flows go through the
// user-input channel.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/pathutil"
	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

// Context keys the adapter shares across steps of one task.
const (
	keyCredentials = "login_credentials"
	keyCaptcha     = "captcha_solution"
)

// InputRequester is the blocking side channel for credentials and
// captchas; userinput.Requester implements it.
type InputRequester interface {
	Request(ctx context.Context, req protocol.InputRequest) (map[string]string, error)
}

// Adapter executes the browser step family.
type Adapter struct {
	driver    Driver
	requester InputRequester
	registry  *tool.Registry

	mu   sync.Mutex
	page *Page
}

func New(driver Driver, requester InputRequester, registry *tool.Registry) *Adapter {
	return &Adapter{driver: driver, requester: requester, registry: registry}
}

func (a *Adapter) Name() string    { return "browser" }
func (a *Adapter) Types() []string { return task.BrowserTypes }

func (a *Adapter) Execute(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	switch step.Type {
	case "browser_navigate":
		return a.navigate(ctx, step, taskCtx)
	case "browser_click":
		return a.interact(ctx, step, "selector", a.driver.Click)
	case "browser_fill":
		return a.fill(ctx, step)
	case "browser_wait":
		return a.wait(ctx, step)
	case "browser_check_element":
		return a.checkElement(step)
	case "browser_screenshot":
		return a.screenshot(ctx, step)
	case "download_file":
		return a.download(ctx, step)
	case "request_login":
		return a.requestLogin(ctx, taskCtx)
	case "request_qr_login":
		return a.requestQRLogin(ctx)
	case "request_captcha":
		return a.requestCaptcha(ctx, step, taskCtx)
	case "fill_login":
		return a.fillLogin(ctx, taskCtx)
	case "fill_captcha":
		return a.fillCaptcha(ctx, step, taskCtx)
	default:
		return task.Fail("browser adapter cannot handle type: " + step.Type)
	}
}

func (a *Adapter) currentPage() *Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page
}

func (a *Adapter) setPage(p *Page) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.page = p
}

func unsupportedInteraction(message string) *task.StepResult {
	return task.FailData(message, map[string]any{"requires_user_action": true})
}

func (a *Adapter) navigate(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	pageURL := step.Param("url")
	if pageURL == "" {
		return task.Fail("browser_navigate needs url")
	}
	if !strings.Contains(pageURL, "://") {
		pageURL = "https://" + pageURL
	}

	page, err := a.driver.Navigate(ctx, pageURL)
	if err != nil {
		return task.Fail("navigation failed: " + err.Error())
	}
	a.setPage(page)
	if taskCtx != nil {
		taskCtx.Set("browser_url", page.URL)
	}

	title := page.Title
	if title == "" {
		title = page.URL
	}
	return task.Ok("Opened "+title, map[string]any{
		"url":   page.URL,
		"title": page.Title,
	})
}

func (a *Adapter) interact(ctx context.Context, step *task.Step, paramKey string, do func(context.Context, string) error) *task.StepResult {
	target := step.Param(paramKey)
	if target == "" {
		return task.Fail(step.Type + " needs " + paramKey)
	}
	if err := do(ctx, target); err != nil {
		if errors.Is(err, ErrInteractionUnsupported) {
			return unsupportedInteraction("page interaction needs a real browser; please perform it manually: " + step.Action)
		}
		return task.Fail(step.Type + " failed: " + err.Error())
	}
	return task.Ok(step.Type+" done", nil)
}

func (a *Adapter) fill(ctx context.Context, step *task.Step) *task.StepResult {
	selector := step.Param("selector")
	value := step.Param("value")
	if selector == "" || value == "" {
		return task.Fail("browser_fill needs selector and value")
	}
	if err := a.driver.Fill(ctx, selector, value); err != nil {
		if errors.Is(err, ErrInteractionUnsupported) {
			return unsupportedInteraction("form filling needs a real browser; please fill the field manually")
		}
		return task.Fail("browser_fill failed: " + err.Error())
	}
	return task.Ok("Filled "+selector, nil)
}

func (a *Adapter) wait(ctx context.Context, step *task.Step) *task.StepResult {
	seconds := 1.0
	if v, ok := step.Params["seconds"].(float64); ok && v > 0 {
		seconds = v
	}
	if seconds > 30 {
		seconds = 30
	}

	select {
	case <-ctx.Done():
		return task.Fail("wait interrupted")
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	}
	return task.Ok(fmt.Sprintf("Waited %.1fs", seconds), nil)
}

func (a *Adapter) checkElement(step *task.Step) *task.StepResult {
	needle := step.Param("selector")
	if needle == "" {
		needle = step.Param("text")
	}
	if needle == "" {
		return task.Fail("browser_check_element needs selector or text")
	}

	page := a.currentPage()
	if page == nil {
		return task.Fail("no page loaded; navigate first")
	}

	found := strings.Contains(page.Body, needle)
	if !found {
		return task.FailData("element not found: "+needle, map[string]any{"found": false})
	}
	return task.Ok("Element present: "+needle, map[string]any{"found": true})
}

func (a *Adapter) screenshot(ctx context.Context, step *task.Step) *task.StepResult {
	savePath := step.Param("save_path")
	if savePath == "" {
		savePath = filepath.Join(pathutil.Desktop(), fmt.Sprintf("page_%s.png", time.Now().Format("20060102_150405")))
	}
	if err := a.driver.Screenshot(ctx, savePath); err != nil {
		if errors.Is(err, ErrInteractionUnsupported) {
			return unsupportedInteraction("page screenshots need a real browser; use screenshot_desktop instead")
		}
		return task.Fail("browser_screenshot failed: " + err.Error())
	}
	return &task.StepResult{
		Success: true,
		Message: "Page screenshot saved to " + savePath,
		Data:    map[string]any{"save_path": savePath},
		Images:  []string{savePath},
	}
}

func (a *Adapter) download(ctx context.Context, step *task.Step) *task.StepResult {
	fileURL := step.Param("url")
	if fileURL == "" {
		return task.Fail("download_file needs url")
	}

	savePath := step.Param("save_path")
	if savePath == "" {
		name := "download"
		if parsed, err := url.Parse(fileURL); err == nil && filepath.Base(parsed.Path) != "/" && filepath.Base(parsed.Path) != "." {
			name = filepath.Base(parsed.Path)
		}
		downloads, err := pathutil.Expand("~/Downloads")
		if err != nil {
			return task.Fail("cannot resolve downloads directory: " + err.Error())
		}
		savePath = filepath.Join(downloads, name)
	} else if expanded, err := pathutil.Expand(savePath); err == nil {
		savePath = expanded
	}

	if a.registry != nil {
		a.registry.Progress("Downloading "+fileURL, nil)
	}
	if err := a.driver.Download(ctx, fileURL, savePath); err != nil {
		return task.Fail("download failed: " + err.Error())
	}
	return task.Ok("Downloaded to "+savePath, map[string]any{"file_path": savePath})
}

func (a *Adapter) requestLogin(ctx context.Context, taskCtx *task.Context) *task.StepResult {
	values, err := a.requester.Request(ctx, protocol.InputRequest{
		Type:    protocol.InputLogin,
		Title:   "Login required",
		Message: "The site needs your credentials to continue.",
		Fields: []protocol.InputField{
			{Name: "username", Label: "Username"},
			{Name: "password", Label: "Password", Type: "password"},
		},
	})
	if err != nil {
		return a.inputFailure(err, "login request")
	}
	if taskCtx != nil {
		taskCtx.Set(keyCredentials, values)
	}
	return task.Ok("Credentials received", nil)
}

func (a *Adapter) requestQRLogin(ctx context.Context) *task.StepResult {
	_, err := a.requester.Request(ctx, protocol.InputRequest{
		Type:    protocol.InputQRLogin,
		Title:   "Scan to log in",
		Message: "Scan the QR code in the opened page, then confirm.",
		Fields: []protocol.InputField{
			{Name: "confirmed", Label: "Scanned and confirmed"},
		},
	})
	if err != nil {
		return a.inputFailure(err, "QR login")
	}
	return task.Ok("QR login confirmed", nil)
}

func (a *Adapter) requestCaptcha(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	values, err := a.requester.Request(ctx, protocol.InputRequest{
		Type:         protocol.InputCaptcha,
		Title:        "Captcha required",
		Message:      "Solve the captcha to continue.",
		CaptchaImage: step.Param("captcha_image"),
		Fields: []protocol.InputField{
			{Name: "captcha", Label: "Captcha text"},
		},
	})
	if err != nil {
		return a.inputFailure(err, "captcha request")
	}
	if taskCtx != nil {
		taskCtx.Set(keyCaptcha, values["captcha"])
	}
	return task.Ok("Captcha received", nil)
}

func (a *Adapter) fillLogin(ctx context.Context, taskCtx *task.Context) *task.StepResult {
	if taskCtx == nil {
		return task.Fail("no task context")
	}
	values, ok := taskCtx.Get(keyCredentials)
	creds, isMap := values.(map[string]string)
	if !ok || !isMap || creds["username"] == "" {
		return task.Fail("no stored credentials; run request_login first")
	}

	if err := a.driver.Fill(ctx, "username", creds["username"]); err != nil {
		if errors.Is(err, ErrInteractionUnsupported) {
			return unsupportedInteraction("filling the login form needs a real browser; please log in manually")
		}
		return task.Fail("fill_login failed: " + err.Error())
	}
	if err := a.driver.Fill(ctx, "password", creds["password"]); err != nil {
		return task.Fail("fill_login failed: " + err.Error())
	}
	return task.Ok("Login form filled", nil)
}

func (a *Adapter) fillCaptcha(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	if taskCtx == nil {
		return task.Fail("no task context")
	}
	solution, _ := taskCtx.Get(keyCaptcha)
	text, _ := solution.(string)
	if text == "" {
		return task.Fail("no stored captcha solution; run request_captcha first")
	}

	selector := step.Param("selector")
	if selector == "" {
		selector = "captcha"
	}
	if err := a.driver.Fill(ctx, selector, text); err != nil {
		if errors.Is(err, ErrInteractionUnsupported) {
			return unsupportedInteraction("filling the captcha needs a real browser; please enter it manually")
		}
		return task.Fail("fill_captcha failed: " + err.Error())
	}
	return task.Ok("Captcha filled", nil)
}

func (a *Adapter) inputFailure(err error, what string) *task.StepResult {
	if errors.Is(err, karakuriErrors.ErrInterrupted) {
		return task.FailData(what+" cancelled by user", map[string]any{"requires_user_action": true})
	}
	if errors.Is(err, karakuriErrors.ErrTimeout) {
		return task.FailData(what+" timed out waiting for the user", map[string]any{"requires_user_action": true})
	}
	return task.Fail(what + " failed: " + err.Error())
}
