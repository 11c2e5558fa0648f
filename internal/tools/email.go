package tools

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/provider"
)

const defaultEmailLimit = 10

// Envelope is the summary returned by read_emails.
type Envelope struct {
	Seq     uint32    `json:"seq"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// Mailbox reads envelopes from a folder, newest first.
type Mailbox interface {
	Envelopes(ctx context.Context, folder string, limit int) ([]Envelope, error)
}

// MailSender delivers one plain-text message.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// EmailWorker implements the email domain over IMAP and SMTP.
type EmailWorker struct {
	mailbox Mailbox
	sender  MailSender
}

// NewEmailWorker builds the IMAP and SMTP backends from config. Either side
// stays nil when its host is not configured.
func NewEmailWorker(cfg config.EmailToolConfig) *EmailWorker {
	w := &EmailWorker{}
	if cfg.IMAPHost != "" {
		w.mailbox = &imapMailbox{cfg: cfg}
	}
	if cfg.SMTPHost != "" {
		w.sender = &smtpSender{cfg: cfg}
	}
	return w
}

// NewEmailWorkerWith wires explicit backends.
func NewEmailWorkerWith(mailbox Mailbox, sender MailSender) *EmailWorker {
	return &EmailWorker{mailbox: mailbox, sender: sender}
}

func (w *EmailWorker) Domain() string { return "email" }

func (w *EmailWorker) Tools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		provider.NewToolDefinition("read_emails", "Read recent emails from inbox",
			objectSchema(map[string]any{
				"folder": stringProp("Email folder (default INBOX)"),
				"limit":  intProp("Max emails to return (default 10)"),
			})),
		provider.NewToolDefinition("send_email", "Send an email to a recipient. Requires user confirmation.",
			objectSchema(map[string]any{
				"to":      stringProp("Recipient email address"),
				"subject": stringProp("Email subject"),
				"body":    stringProp("Email body"),
			}, "to", "subject", "body")),
	}
}

func (w *EmailWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	switch req.Operation {
	case "read_emails":
		if w.mailbox == nil {
			return Fail("email is not configured"), nil
		}
		folder := GetString(req.Params, "folder", "INBOX")
		limit := GetInt(req.Params, "limit", defaultEmailLimit)
		if limit <= 0 {
			limit = defaultEmailLimit
		}
		envs, err := w.mailbox.Envelopes(ctx, folder, limit)
		if err != nil {
			return Fail("Failed to read emails: %v", err), nil
		}
		return OK(map[string]any{"folder": folder, "emails": envs, "count": len(envs)}), nil
	case "send_email":
		if w.sender == nil {
			return Fail("email is not configured"), nil
		}
		vals, ok := requireStrings(req.Params, "to", "subject")
		body := GetString(req.Params, "body", "")
		if !ok || body == "" {
			return Fail("Missing to, subject, or body"), nil
		}
		if err := w.sender.SendMail(ctx, vals[0], vals[1], body); err != nil {
			return Fail("Failed to send email: %v", err), nil
		}
		return OK(map[string]any{"to": vals[0], "subject": vals[1], "sent": true}), nil
	}
	return UnknownOperation(req.Operation), nil
}

type imapMailbox struct {
	cfg config.EmailToolConfig
}

func (m *imapMailbox) Envelopes(ctx context.Context, folder string, limit int) ([]Envelope, error) {
	addr := net.JoinHostPort(m.cfg.IMAPHost, strconv.Itoa(m.cfg.IMAPPort))
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	defer c.Logout()
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	if mbox.Messages == 0 {
		return []Envelope{}, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	out := make([]Envelope, 0, limit)
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		env := Envelope{Seq: msg.SeqNum, Subject: msg.Envelope.Subject, Date: msg.Envelope.Date}
		if len(msg.Envelope.From) > 0 {
			env.From = formatAddress(msg.Envelope.From[0])
		}
		out = append(out, env)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func formatAddress(a *imap.Address) string {
	if a.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", a.PersonalName, a.Address())
	}
	return a.Address()
}

type smtpSender struct {
	cfg config.EmailToolConfig
}

func (s *smtpSender) SendMail(_ context.Context, to, subject, body string) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	return smtp.SendMail(addr, auth, from, []string{to}, buildMessage(from, to, subject, body))
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
