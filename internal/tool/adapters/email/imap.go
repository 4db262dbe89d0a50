package email

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"gopkg.in/gomail.v2"
)

// imapInbox is one live session against the configured IMAP server.
// Every adapter operation opens a fresh session and closes it; mail
// servers drop idle connections too aggressively to keep one around.
type imapInbox struct {
	c *client.Client
}

func openIMAPInbox(cfg Config) (Inbox, error) {
	host := cfg.IMAPHost()
	if host == "" {
		return nil, fmt.Errorf("imap host is not configured")
	}
	if !strings.Contains(host, ":") {
		host += ":993"
	}

	c, err := client.DialTLS(host, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	if err := c.Login(cfg.EmailAddress(), cfg.EmailPassword()); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	return &imapInbox{c: c}, nil
}

func (in *imapInbox) Close() error {
	return in.c.Logout()
}

func (in *imapInbox) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	if query != "" {
		criteria.Text = []string{query}
	}
	uids, err := in.c.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// Newest messages carry the highest UIDs.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- in.c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var out []Message
	for msg := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out = append(out, envelopeMessage(msg))
	}
	if err := <-done; err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID > out[j].UID })
	return out, nil
}

func (in *imapInbox) Details(ctx context.Context, uid uint32) (*Message, error) {
	msg, body, err := in.fetchBody(uid)
	if err != nil {
		return nil, err
	}

	result := envelopeMessage(msg)
	if body != nil {
		mr, err := mail.CreateReader(body)
		if err != nil {
			return nil, fmt.Errorf("parse message: %w", err)
		}
		var text strings.Builder
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read part: %w", err)
			}
			switch h := p.Header.(type) {
			case *mail.InlineHeader:
				ctype, _, _ := h.ContentType()
				if ctype == "text/plain" || (ctype == "text/html" && text.Len() == 0) {
					data, err := io.ReadAll(p.Body)
					if err != nil {
						return nil, err
					}
					text.Write(data)
				}
			case *mail.AttachmentHeader:
				if name, err := h.Filename(); err == nil && name != "" {
					result.Attachments = append(result.Attachments, name)
				}
			}
		}
		result.Body = strings.TrimSpace(text.String())
	}
	return &result, nil
}

func (in *imapInbox) DownloadAttachments(ctx context.Context, uid uint32, dir string) ([]string, error) {
	_, body, err := in.fetchBody(uid)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("message %d has no body", uid)
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	var saved []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		name, err := h.Filename()
		if err != nil || name == "" {
			continue
		}
		// Attachment names come from the sender; never let them escape dir.
		path := filepath.Join(dir, filepath.Base(name))
		f, err := os.Create(path)
		if err != nil {
			return saved, err
		}
		if _, err := io.Copy(f, p.Body); err != nil {
			f.Close()
			os.Remove(path)
			return saved, err
		}
		f.Close()
		saved = append(saved, path)
	}
	return saved, nil
}

func (in *imapInbox) Manage(_ context.Context, uids []uint32, action string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	var op imap.FlagsOp
	var flag string
	expunge := false
	switch action {
	case "mark_read":
		op, flag = imap.AddFlags, imap.SeenFlag
	case "mark_unread":
		op, flag = imap.RemoveFlags, imap.SeenFlag
	case "flag":
		op, flag = imap.AddFlags, imap.FlaggedFlag
	case "unflag":
		op, flag = imap.RemoveFlags, imap.FlaggedFlag
	case "delete":
		op, flag = imap.AddFlags, imap.DeletedFlag
		expunge = true
	default:
		return fmt.Errorf("unknown mail action: %s", action)
	}

	item := imap.FormatFlagsOp(op, true)
	if err := in.c.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return err
	}
	if expunge {
		return in.c.Expunge(nil)
	}
	return nil
}

func (in *imapInbox) fetchBody(uid uint32) (*imap.Message, io.Reader, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- in.c.UidFetch(seqset, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return nil, nil, fmt.Errorf("message %d not found", uid)
	}
	return msg, msg.GetBody(section), nil
}

func envelopeMessage(msg *imap.Message) Message {
	out := Message{UID: msg.Uid}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.Date = env.Date
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
		}
		for _, addr := range env.To {
			out.To = append(out.To, addr.Address())
		}
	}
	return out
}

// smtpSender delivers through the configured SMTP relay.
type smtpSender struct {
	cfg Config
}

func (s *smtpSender) Send(to []string, subject, body string, attachments []string) error {
	host := s.cfg.SMTPHost()
	if host == "" {
		return fmt.Errorf("smtp host is not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.EmailAddress())
	m.SetHeader("To", to...)
	if subject != "" {
		m.SetHeader("Subject", subject)
	}
	m.SetBody("text/plain", body)
	for _, path := range attachments {
		m.Attach(path)
	}

	d := gomail.NewDialer(host, s.cfg.SMTPPort(), s.cfg.EmailAddress(), s.cfg.EmailPassword())
	return d.DialAndSend(m)
}
