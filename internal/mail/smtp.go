package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

// SMTPConfig addresses the relay. Username may be empty for relays that
// accept unauthenticated mail from the app host.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// Timeout bounds one whole delivery: dial, handshake and DATA.
	// Zero means DefaultSMTPTimeout.
	Timeout time.Duration
}

// DefaultSMTPTimeout applies when SMTPConfig.Timeout is zero.
const DefaultSMTPTimeout = 10 * time.Second

// SMTPMailer sends through an SMTP relay with STARTTLS when offered.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	m := &SMTPMailer{cfg: cfg, now: time.Now}
	m.send = m.deliver
	return m
}

// Send builds the MIME message and hands it to the relay. The delivery
// gives up when ctx is done or the configured timeout passes, whichever
// comes first.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := m.build(msg, to)
	if err != nil {
		return fmt.Errorf("mail: building message: %w", err)
	}

	var a smtp.Auth
	if m.cfg.Username != "" {
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(ctx, addr, a, m.cfg.From, to, raw); err != nil {
		return fmt.Errorf("mail: sending to %s: %w", addr, err)
	}
	return nil
}

// deliver is smtp.SendMail with a deadline.
//
// net/smtp knows nothing about contexts, so the connection is dialled here
// and handed to smtp.NewClient:
//
//	DialContext        → bounded by ctx and the timeout
//	conn.SetDeadline   → every read and write after that
//	context.AfterFunc  → closes the socket if ctx ends mid-conversation
func (m *SMTPMailer) deliver(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// A failure caused by the closed socket reads better as the reason
	// the socket was closed.
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = errors.Join(ctx.Err(), err)
		}
	}()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) build(msg Message, to []string) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	domain := "localhost"
	if at := strings.LastIndexByte(m.cfg.From, '@'); at >= 0 {
		domain = m.cfg.From[at+1:]
	}

	header("From", m.cfg.From)
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("Message-ID", "<"+xid.New().String()+"@"+domain+">")
	header("MIME-Version", "1.0")

	if msg.HTML == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.Text); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	parts := []struct{ ctype, body string }{
		{`text/plain; charset="utf-8"`, msg.Text},
		{`text/html; charset="utf-8"`, msg.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeQP(w, p.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
