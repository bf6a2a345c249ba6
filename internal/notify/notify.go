// Package notify delivers secure links and their OTPs to recipients.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"
	"time"
)

const (
	DefaultSubject = "Contract Signature Required"
	DefaultMessage = `Dear Interpreter,

Please use the secure link below to access and sign your contract. You will need the OTP code provided to access the document.

Thank you`
)

// Message is a rendered email with plain-text and HTML alternatives.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LinkEmail is the content of a secure link invitation.
type LinkEmail struct {
	To         string
	Subject    string
	Message    string
	SecureLink string
	OTP        string
	ExpiresAt  time.Time
}

var textBody = texttemplate.Must(texttemplate.New("link.txt").Parse(`{{.Message}}

Secure Link: {{.SecureLink}}
OTP Code: {{.OTP}}

This link will expire on: {{.Expires}}

Important: Keep this OTP code secure and do not share it with anyone.
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("link.html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="padding: 30px; background: #f9f9f9;">
    <div style="background: white; padding: 20px; border-radius: 8px;">
      <p style="color: #333; line-height: 1.6;">{{range $i, $line := .Lines}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
      <div style="margin: 30px 0; padding: 20px; background: #f0fdf4; border-left: 4px solid #22c55e;">
        <h3 style="color: #16a34a; margin: 0 0 10px 0;">Secure Access Information</h3>
        <p><strong>Secure Link:</strong><br><a href="{{.SecureLink}}">{{.SecureLink}}</a></p>
        <p><strong>OTP Code:</strong> <span style="font-family: monospace; font-size: 18px; font-weight: bold;">{{.OTP}}</span></p>
        <p style="color: #dc2626;"><strong>Expires:</strong> {{.Expires}}</p>
      </div>
      <div style="margin: 20px 0; padding: 15px; background: #fef3c7;">
        <p style="margin: 0; color: #92400e;"><strong>Security Notice:</strong> Keep this OTP code secure and do not share it with anyone. This link is unique to you and will expire after use or at the specified time.</p>
      </div>
    </div>
  </div>
</div>
`))

// Compose renders a link invitation, filling in the default subject and
// message when the caller left them blank.
func Compose(e LinkEmail) (Message, error) {
	subject := strings.TrimSpace(e.Subject)
	if subject == "" {
		subject = DefaultSubject
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = DefaultMessage
	}

	data := struct {
		Message    string
		Lines      []string
		SecureLink string
		OTP        string
		Expires    string
	}{
		Message:    message,
		Lines:      strings.Split(message, "\n"),
		SecureLink: e.SecureLink,
		OTP:        e.OTP,
		Expires:    e.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{To: e.To, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// SMTP host is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email not sent: smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
