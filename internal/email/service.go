package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
)

type Service interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

var alertTemplate = template.Must(template.New("alert").Parse(
	`<h2>{{.Title}}</h2>
<p>{{.Content}}</p>
<p><small>{{.Type}} · {{.CreatedAt.UTC.Format "2006-01-02 15:04 MST"}}</small></p>
`))

// RenderAlert builds the subject and escaped HTML body for a notification.
func RenderAlert(n *model.Notification) (string, string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, n); err != nil {
		return "", "", err
	}
	return "[" + string(n.Priority()) + "] " + n.Title, buf.String(), nil
}
