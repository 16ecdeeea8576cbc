package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// CredentialFunc resolves the secret for an account id. Injected at startup
// so this package never reads credential sources directly.
type CredentialFunc func(accountID string) (secret string, ok bool)

// SMTP sends through a relay host, authenticating as the selected account.
// The account id doubles as the From address.
type SMTP struct {
	Host        string
	Port        int
	Credentials CredentialFunc
	HelloName   string
	DialTimeout time.Duration
}

func NewSMTP(host string, port int, creds CredentialFunc) *SMTP {
	return &SMTP{
		Host:        host,
		Port:        port,
		Credentials: creds,
		HelloName:   "localhost",
		DialTimeout: 30 * time.Second,
	}
}

func (s *SMTP) Send(ctx context.Context, acct core.Account, req core.SendRequest) (string, error) {
	pass, ok := s.Credentials(acct.ID)
	if !ok {
		return "", fmt.Errorf("smtp: no credential for account %s", acct.ID)
	}

	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.Host)
	msg := buildMessage(acct, req, msgID)

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	d := &net.Dialer{Timeout: s.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("smtp: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return "", fmt.Errorf("smtp: client: %w", err)
	}
	defer c.Close()

	if err := c.Hello(s.HelloName); err != nil {
		return "", fmt.Errorf("smtp: hello: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
		if err := c.StartTLS(cfg); err != nil {
			return "", fmt.Errorf("smtp: starttls: %w", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", acct.ID, pass, s.Host)
		if err := c.Auth(auth); err != nil {
			return "", fmt.Errorf("smtp: auth %s: %w", acct.ID, err)
		}
	}

	if err := c.Mail(acct.ID); err != nil {
		return "", fmt.Errorf("smtp: mail from: %w", err)
	}
	if err := c.Rcpt(req.Recipient); err != nil {
		return "", fmt.Errorf("smtp: rcpt to %s: %w", req.Recipient, err)
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp: close: %w", err)
	}
	_ = c.Quit()

	return msgID, ctx.Err()
}

func buildMessage(acct core.Account, req core.SendRequest, msgID string) []byte {
	var buf bytes.Buffer
	from := acct.ID
	if acct.DisplayName != "" {
		from = fmt.Sprintf("%s <%s>", acct.DisplayName, acct.ID)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", req.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", req.Subject)
	fmt.Fprintf(&buf, "Message-Id: %s\r\n", msgID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(req.Body)
	return buf.Bytes()
}
