package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/efektum/mystery-hours/cmd/clock"
)

// Static errors for notification
var (
	ErrNoAttachments = errors.New("no files to send")
	ErrNoRecipients  = errors.New("no recipients configured")
)

// DefaultCampaign is the report family named in subjects and bodies
const DefaultCampaign = "MS_Godziny"

// Message is one outbound email. Attachments are local file paths.
type Message struct {
	Subject     string
	HTMLBody    string
	Recipients  []string
	Attachments []string
}

// Sender delivers a Message in a single outbound call.
type Sender interface {
	SendMail(ctx context.Context, msg Message) error
}

// Notifier builds and sends the run's emails.
type Notifier struct {
	sender   Sender
	campaign string
	clock    clock.Clock
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for the given report family.
func NewNotifier(sender Sender, campaign string, c clock.Clock, logger *slog.Logger) *Notifier {
	if campaign == "" {
		campaign = DefaultCampaign
	}
	return &Notifier{sender: sender, campaign: campaign, clock: c, logger: logger}
}

// Send emails the attachments to recipients. An empty subject or body is
// replaced by the default summary text. Every attachment must exist.
func (n *Notifier) Send(ctx context.Context, attachments []string, subject, body string, recipients []string) error {
	if len(attachments) == 0 {
		return ErrNoAttachments
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	for _, p := range attachments {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("attachment %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("attachment %s is a directory", p)
		}
	}

	now := n.clock.Now()
	if subject == "" {
		subject = n.DefaultSubject(now)
	}
	if body == "" {
		var err error
		if body, err = n.DefaultBody(now); err != nil {
			return err
		}
	}

	n.logger.Info(fmt.Sprintf("Sending email with %d attachment(s) to %d recipient(s)", len(attachments), len(recipients)),
		"subject", subject, "attachments", baseNames(attachments))

	msg := Message{
		Subject:     subject,
		HTMLBody:    body,
		Recipients:  recipients,
		Attachments: attachments,
	}
	if err := n.sender.SendMail(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("✅ Email sent")
	return nil
}

// DefaultSubject is "Podsumowanie {campaign} - YYYY-MM-DD".
func (n *Notifier) DefaultSubject(now time.Time) string {
	return fmt.Sprintf("Podsumowanie %s - %s", n.campaign, now.Format("2006-01-02"))
}

var summaryBody = template.Must(template.New("summary").Parse(`<html><body>
<b>Witaj!</b><br/>
W załączeniu przesyłamy raporty {{.Campaign}} wygenerowane dnia: {{.GeneratedAt}}<br/>
Pozdrawiamy Efektum IT<br/>
<b>Ta wiadomość jest generowana automatycznie, nie odpowiadaj na nią!</b>
</body></html>`))

// DefaultBody renders the HTML summary greeting.
func (n *Notifier) DefaultBody(now time.Time) (string, error) {
	var buf bytes.Buffer
	err := summaryBody.Execute(&buf, struct {
		Campaign    string
		GeneratedAt string
	}{n.campaign, now.Format("2006-01-02 15:04")})
	if err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}
