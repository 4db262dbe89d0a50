// Package email implements the mail step family: SMTP send through
// gomail, IMAP search and retrieval through go-imap, plus archive
// creation for attachment workflows. Every mail verb checks the config
// gate first so the planner learns the account is missing instead of
// retrying.
package email

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/harunnryd/karakuri/internal/pathutil"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

const defaultSearchLimit = 10

// Config is the slice of the settings store the adapter needs;
// config.Store implements it.
type Config interface {
	SMTPHost() string
	SMTPPort() int
	IMAPHost() string
	EmailAddress() string
	EmailPassword() string
	EmailConfigured() bool
}

// Message is the adapter's view of one mail.
type Message struct {
	UID         uint32
	From        string
	To          []string
	Subject     string
	Date        time.Time
	Body        string
	Attachments []string
}

// Inbox is one IMAP session. Search returns envelope-level matches
// newest first; Details and DownloadAttachments address a message by
// the UID Search reported.
type Inbox interface {
	Search(ctx context.Context, query string, limit int) ([]Message, error)
	Details(ctx context.Context, uid uint32) (*Message, error)
	DownloadAttachments(ctx context.Context, uid uint32, dir string) ([]string, error)
	Manage(ctx context.Context, uids []uint32, action string) error
	Close() error
}

// Sender delivers one outbound mail.
type Sender interface {
	Send(to []string, subject, body string, attachments []string) error
}

// Adapter executes the email step family.
type Adapter struct {
	cfg      Config
	registry *tool.Registry

	openInbox func() (Inbox, error)
	sender    Sender
}

// New wires the adapter to the real IMAP and SMTP backends.
func New(cfg Config, registry *tool.Registry) *Adapter {
	a := &Adapter{cfg: cfg, registry: registry}
	a.openInbox = func() (Inbox, error) { return openIMAPInbox(cfg) }
	a.sender = &smtpSender{cfg: cfg}
	return a
}

func (a *Adapter) Name() string    { return "email" }
func (a *Adapter) Types() []string { return task.EmailTypes }

func (a *Adapter) Execute(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	// compress_files lives in this family for attachment workflows but
	// touches no mail account.
	if step.Type == "compress_files" {
		return a.compress(step)
	}

	if !a.cfg.EmailConfigured() {
		return task.FailData("email account is not configured; set email_address and email_password in settings", map[string]any{
			"is_config_error": true,
		})
	}

	switch step.Type {
	case "send_email":
		return a.send(step)
	case "search_emails":
		return a.search(ctx, step, taskCtx)
	case "get_email_details":
		return a.details(ctx, step)
	case "download_attachments":
		return a.downloadAttachments(ctx, step)
	case "manage_emails":
		return a.manage(ctx, step)
	default:
		return task.Fail("email adapter cannot handle type: " + step.Type)
	}
}

func (a *Adapter) send(step *task.Step) *task.StepResult {
	to := recipientList(step.Params["to"])
	if len(to) == 0 {
		return task.Fail("send_email needs to")
	}
	subject := step.Param("subject")
	body := step.Param("body")
	if body == "" {
		body = step.Param("message")
	}
	if subject == "" && body == "" {
		return task.Fail("send_email needs subject or body")
	}

	attachments, err := attachmentList(step.Params["attachments"])
	if err != nil {
		return task.Fail(err.Error())
	}

	if a.registry != nil {
		a.registry.Progress("Sending email to "+strings.Join(to, ", "), nil)
	}
	if err := a.sender.Send(to, subject, body, attachments); err != nil {
		return task.Fail("send failed: " + err.Error())
	}
	return task.Ok("Email sent to "+strings.Join(to, ", "), map[string]any{
		"to":      to,
		"subject": subject,
	})
}

func (a *Adapter) search(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult {
	query := step.Param("query")
	if query == "" {
		query = step.Param("keyword")
	}

	limit := defaultSearchLimit
	if n, ok := intParam(step.Params["limit"]); ok && n > 0 {
		limit = n
	}

	inbox, err := a.openInbox()
	if err != nil {
		return task.Fail("cannot open mailbox: " + err.Error())
	}
	defer inbox.Close()

	messages, err := inbox.Search(ctx, query, limit)
	if err != nil {
		return task.Fail("search failed: " + err.Error())
	}

	lines := make([]string, 0, len(messages))
	listed := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("[%d] %s — %s (%s)", m.UID, m.From, m.Subject, m.Date.Format("2006-01-02 15:04")))
		listed = append(listed, map[string]any{
			"uid":     m.UID,
			"from":    m.From,
			"subject": m.Subject,
			"date":    m.Date.Format(time.RFC3339),
		})
	}

	message := fmt.Sprintf("Found %d emails", len(messages))
	if len(lines) > 0 {
		message += "\n" + strings.Join(lines, "\n")
	}
	if taskCtx != nil && len(messages) > 0 {
		taskCtx.Set("last_email_uid", messages[0].UID)
	}
	return task.Ok(message, map[string]any{"emails": listed, "count": len(messages)})
}

func (a *Adapter) details(ctx context.Context, step *task.Step) *task.StepResult {
	uid, ok := intParam(step.Params["uid"])
	if !ok || uid <= 0 {
		return task.Fail("get_email_details needs uid")
	}

	inbox, err := a.openInbox()
	if err != nil {
		return task.Fail("cannot open mailbox: " + err.Error())
	}
	defer inbox.Close()

	m, err := inbox.Details(ctx, uint32(uid))
	if err != nil {
		return task.Fail("fetch failed: " + err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", m.From)
	fmt.Fprintf(&sb, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&sb, "Date: %s\n", m.Date.Format("2006-01-02 15:04"))
	if len(m.Attachments) > 0 {
		fmt.Fprintf(&sb, "Attachments: %s\n", strings.Join(m.Attachments, ", "))
	}
	sb.WriteString("\n")
	sb.WriteString(m.Body)

	return task.Ok(sb.String(), map[string]any{
		"uid":         m.UID,
		"from":        m.From,
		"subject":     m.Subject,
		"body":        m.Body,
		"attachments": m.Attachments,
	})
}

func (a *Adapter) downloadAttachments(ctx context.Context, step *task.Step) *task.StepResult {
	uid, ok := intParam(step.Params["uid"])
	if !ok || uid <= 0 {
		return task.Fail("download_attachments needs uid")
	}

	dir := step.Param("save_dir")
	if dir == "" {
		expanded, err := pathutil.Expand("~/Downloads")
		if err != nil {
			return task.Fail("cannot resolve downloads directory: " + err.Error())
		}
		dir = expanded
	} else if expanded, err := pathutil.Expand(dir); err == nil {
		dir = expanded
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return task.Fail("cannot create save directory: " + err.Error())
	}

	inbox, err := a.openInbox()
	if err != nil {
		return task.Fail("cannot open mailbox: " + err.Error())
	}
	defer inbox.Close()

	saved, err := inbox.DownloadAttachments(ctx, uint32(uid), dir)
	if err != nil {
		return task.Fail("download failed: " + err.Error())
	}
	if len(saved) == 0 {
		return task.Fail("email has no attachments")
	}
	return task.Ok(fmt.Sprintf("Saved %d attachments to %s", len(saved), dir), map[string]any{
		"files": saved,
	})
}

var manageActions = map[string]string{
	"mark_read":   "mark_read",
	"read":        "mark_read",
	"mark_unread": "mark_unread",
	"unread":      "mark_unread",
	"delete":      "delete",
	"flag":        "flag",
	"star":        "flag",
	"unflag":      "unflag",
	"unstar":      "unflag",
}

func (a *Adapter) manage(ctx context.Context, step *task.Step) *task.StepResult {
	action, ok := manageActions[strings.ToLower(step.Param("email_action"))]
	if !ok {
		action, ok = manageActions[strings.ToLower(step.Param("operation"))]
	}
	if !ok {
		return task.Fail("manage_emails needs email_action (mark_read, mark_unread, delete, flag, unflag)")
	}

	uids := uidList(step.Params["uids"])
	if uid, ok := intParam(step.Params["uid"]); ok && uid > 0 {
		uids = append(uids, uint32(uid))
	}
	if len(uids) == 0 {
		return task.Fail("manage_emails needs uid or uids")
	}

	inbox, err := a.openInbox()
	if err != nil {
		return task.Fail("cannot open mailbox: " + err.Error())
	}
	defer inbox.Close()

	if err := inbox.Manage(ctx, uids, action); err != nil {
		return task.Fail("manage failed: " + err.Error())
	}
	return task.Ok(fmt.Sprintf("Applied %s to %d emails", action, len(uids)), map[string]any{
		"action": action,
		"count":  len(uids),
	})
}

func (a *Adapter) compress(step *task.Step) *task.StepResult {
	files, err := attachmentList(step.Params["files"])
	if err != nil {
		return task.Fail(err.Error())
	}
	if len(files) == 0 {
		dir := step.Param("directory")
		if dir == "" {
			return task.Fail("compress_files needs files or directory")
		}
		expanded, err := pathutil.Expand(dir)
		if err == nil {
			dir = expanded
		}
		pattern := step.Param("pattern")
		if pattern == "" {
			pattern = "*"
		}
		matches, err := doublestar.Glob(os.DirFS(dir), pattern)
		if err != nil {
			return task.Fail("bad pattern: " + err.Error())
		}
		for _, m := range matches {
			full := filepath.Join(dir, m)
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				files = append(files, full)
			}
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return task.Fail("no files matched for compression")
	}

	target := step.Param("target_path")
	if target == "" {
		target = step.Param("zip_path")
	}
	if target == "" {
		target = filepath.Join(filepath.Dir(files[0]), "archive_"+time.Now().Format("20060102_150405")+".zip")
	} else if expanded, err := pathutil.Expand(target); err == nil {
		target = expanded
	}
	if !strings.HasSuffix(strings.ToLower(target), ".zip") {
		target += ".zip"
	}

	if err := writeZip(target, files); err != nil {
		return task.Fail("compression failed: " + err.Error())
	}
	return task.Ok(fmt.Sprintf("Compressed %d files into %s", len(files), target), map[string]any{
		"zip_path": target,
		"count":    len(files),
	})
}

func writeZip(target string, files []string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addZipEntry(zw, path); err != nil {
			zw.Close()
			os.Remove(target)
			return fmt.Errorf("add %s: %w", filepath.Base(path), err)
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// recipientList accepts "a@b.c", "a@b.c, d@e.f" or a JSON array.
func recipientList(raw any) []string {
	switch v := raw.(type) {
	case string:
		var out []string
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// attachmentList expands paths and verifies each exists.
func attachmentList(raw any) ([]string, error) {
	var paths []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) != "" {
			paths = append(paths, v)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				paths = append(paths, s)
			}
		}
	case []string:
		paths = v
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		expanded, err := pathutil.Expand(p)
		if err != nil {
			expanded = p
		}
		if _, err := os.Stat(expanded); err != nil {
			return nil, fmt.Errorf("attachment not found: %s", expanded)
		}
		out = append(out, expanded)
	}
	return out, nil
}

func uidList(raw any) []uint32 {
	var out []uint32
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if n, ok := intParam(item); ok && n > 0 {
				out = append(out, uint32(n))
			}
		}
	case []float64:
		for _, f := range v {
			if f > 0 {
				out = append(out, uint32(f))
			}
		}
	}
	return out
}

// intParam tolerates the number shapes JSON decoding produces.
func intParam(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
