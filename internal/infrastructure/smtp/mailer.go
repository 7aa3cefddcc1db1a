package smtp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/go-auth-api/internal/config"
	"github.com/go-auth-api/internal/domain"
)

// Notifier delivers one-time codes to users. Failures are reported to the
// caller, which decides whether to compensate already-committed state.
type Notifier interface {
	SendCode(ctx context.Context, to, code string, purpose domain.CodePurpose, expiry time.Duration) error
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	appName  string
	timeout  time.Duration
}

func NewMailer(cfg *config.Config) Notifier {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		appName:  cfg.AppName,
		timeout:  cfg.SMTPTimeout,
	}
}

func (m *mailer) SendCode(ctx context.Context, to, code string, purpose domain.CodePurpose, expiry time.Duration) error {
	subject, body := m.compose(code, purpose, expiry)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	return m.send(ctx, to, []byte(msg))
}

func (m *mailer) compose(code string, purpose domain.CodePurpose, expiry time.Duration) (subject, body string) {
	minutes := int(expiry.Minutes())
	switch purpose {
	case domain.PurposeForgetPassword:
		subject = fmt.Sprintf("%s – Password reset code", m.appName)
		body = fmt.Sprintf("%s is your password reset code. It expires in %d minutes.\r\nIf you did not request a reset, you can ignore this email.", code, minutes)
	default:
		subject = fmt.Sprintf("%s – Your verification code", m.appName)
		body = fmt.Sprintf("%s is your verification code. It expires in %d minutes.", code, minutes)
	}
	return subject, body
}

// send speaks SMTP over a connection with an explicit deadline so a slow
// or unreachable relay cannot hold a request open past its budget.
func (m *mailer) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.host, m.port)

	d := net.Dialer{Timeout: m.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.username, m.password, m.host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}
