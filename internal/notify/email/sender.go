// Package email delivers reports over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/mail.v2"

	"github.com/JakeFAU/supacrawl/internal/report"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender implements report.Mailer with gomail.
type Sender struct {
	cfg    Config
	dialer dialer
	logger *zap.Logger
}

// NewSender validates cfg and returns a Sender.
func NewSender(cfg Config, logger *zap.Logger) (*Sender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("from and to addresses are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.Timeout = cfg.Timeout
	return &Sender{cfg: cfg, dialer: d, logger: logger.Named("email")}, nil
}

// Send delivers msg with a plain text part and an HTML alternative.
func (s *Sender) Send(ctx context.Context, msg report.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m := s.build(msg)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			s.logger.Error("email delivery failed", zap.String("subject", msg.Subject), zap.Error(err))
			return fmt.Errorf("send email: %w", err)
		}
	}
	s.logger.Info("email sent", zap.String("subject", msg.Subject), zap.Strings("to", s.cfg.To))
	return nil
}

func (s *Sender) build(msg report.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", s.cfg.To...)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}
