// Package mail delivers verification emails over SMTP. Without SMTP
// settings it runs in development mode and logs the links instead.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Mode reports how a message was delivered.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

const verificationSubject = "Verify your Pix2Land account"

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Secure   bool
	User     string
	Pass     string
	FromName string
}

// Configured reports whether enough settings are present to send mail.
func (c Config) Configured() bool {
	return c.Host != "" && c.User != "" && c.Pass != ""
}

// Result describes one delivery.
type Result struct {
	Mode Mode
}

// Status is the outcome of a configuration check.
type Status struct {
	Configured bool
	Mode       Mode
	Message    string
}

// transport is the subset of *mail.Client used here.
type transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
	DialWithContext(ctx context.Context) error
	Close() error
}

// Mailer sends account emails.
type Mailer struct {
	cfg    Config
	client transport
	log    *zap.Logger
}

// New builds a Mailer. An unconfigured Mailer never dials out.
func New(cfg Config, log *zap.Logger) (*Mailer, error) {
	m := &Mailer{cfg: cfg, log: log}
	if !cfg.Configured() {
		log.Info("email service not configured, using development mode")
		return m, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Pass),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	m.client = client
	log.Info("email service configured", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return m, nil
}

// SendVerificationEmail delivers the verification link to the user.
func (m *Mailer) SendVerificationEmail(ctx context.Context, to, name, link string) (Result, error) {
	if m.client == nil {
		m.log.Info("email verification (development mode)",
			zap.String("to", to),
			zap.String("name", name),
			zap.String("subject", verificationSubject),
			zap.String("link", link),
		)
		return Result{Mode: ModeDevelopment}, nil
	}

	msg, err := m.verificationMessage(to, name, link)
	if err != nil {
		return Result{}, err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("send verification email: %w", err)
	}
	m.log.Info("verification email sent", zap.String("to", to))
	return Result{Mode: ModeProduction}, nil
}

// TestConfiguration dials the SMTP server without sending anything.
func (m *Mailer) TestConfiguration(ctx context.Context) Status {
	if m.client == nil {
		return Status{Mode: ModeDevelopment, Message: "Email service not configured"}
	}
	if err := m.client.DialWithContext(ctx); err != nil {
		m.log.Warn("email configuration test failed", zap.Error(err))
		return Status{Mode: ModeDevelopment, Message: fmt.Sprintf("Email configuration test failed: %v", err)}
	}
	if err := m.client.Close(); err != nil {
		m.log.Debug("close smtp connection", zap.Error(err))
	}
	return Status{Configured: true, Mode: ModeProduction, Message: "Email configuration is valid"}
}

func (m *Mailer) verificationMessage(to, name, link string) (*mail.Msg, error) {
	body, err := renderVerification(name, link)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.User); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set recipient %s: %w", to, err)
	}
	msg.Subject(verificationSubject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Verify your Pix2Land account</title>
</head>
<body style="font-family: sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Verify your account</h1>
  <p>Hi {{.Name}},</p>
  <p>Thank you for registering with Pix2Land! Click the button below to verify your email address.</p>
  <p style="text-align: center;">
    <a href="{{.Link}}" style="background: #4CAF50; color: #fff; padding: 15px 30px; text-decoration: none; border-radius: 5px;">Verify Email Address</a>
  </p>
  <p>This link expires in 24 hours. If you didn't create an account with Pix2Land, you can ignore this email.</p>
  <p style="word-break: break-all; font-size: 12px;">{{.Link}}</p>
</body>
</html>
`))

// renderVerification expects name as stored, which may already carry HTML
// entities from request sanitization. It is decoded first so the template
// escapes it exactly once.
func renderVerification(name, link string) (string, error) {
	var buf bytes.Buffer
	err := verificationTmpl.Execute(&buf, struct {
		Name string
		Link template.URL
	}{Name: html.UnescapeString(name), Link: template.URL(link)})
	if err != nil {
		return "", fmt.Errorf("render verification email: %w", err)
	}
	return buf.String(), nil
}
