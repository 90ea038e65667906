package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// Failure is one report that could not be produced or written.
type Failure struct {
	Report string
	Stage  string
	Err    error
	At     time.Time
}

var errorReportBody = template.Must(template.New("errors").Parse(`<html><body>
<h2>Raport błędów {{.Campaign}}</h2>
<p><strong>Data przetwarzania:</strong> {{.Date}}</p>
<p><strong>Liczba błędów:</strong> {{len .Failures}}</p>
<table border="1" style="border-collapse: collapse; width: 100%;">
<tr style="background-color: #f2f2f2;"><th style="padding: 8px;">Raport</th><th style="padding: 8px;">Etap</th><th style="padding: 8px;">Błąd</th><th style="padding: 8px;">Czas</th></tr>
{{range .Failures}}<tr><td style="padding: 8px;">{{.Report}}</td><td style="padding: 8px;">{{.Stage}}</td><td style="padding: 8px;">{{.Err}}</td><td style="padding: 8px;">{{.At.Format "15:04:05"}}</td></tr>
{{end}}</table>
<p><strong>Uwaga:</strong> Raporty z błędami zostały pominięte.</p>
<p>Pozdrawiamy Efektum IT</p>
<p><em>Ta wiadomość jest generowana automatycznie.</em></p>
</body></html>`))

// SendErrorReport emails a table of failed reports. It does nothing when
// failures is empty.
func (n *Notifier) SendErrorReport(ctx context.Context, failures []Failure, recipients []string) error {
	if len(failures) == 0 {
		return nil
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	now := n.clock.Now()
	var buf bytes.Buffer
	err := errorReportBody.Execute(&buf, struct {
		Campaign string
		Date     string
		Failures []Failure
	}{n.campaign, now.Format("2006-01-02"), failures})
	if err != nil {
		return fmt.Errorf("failed to render error report: %w", err)
	}

	msg := Message{
		Subject:    fmt.Sprintf("Raport błędów %s - %s", n.campaign, now.Format("2006-01-02")),
		HTMLBody:   buf.String(),
		Recipients: recipients,
	}
	if err := n.sender.SendMail(ctx, msg); err != nil {
		return fmt.Errorf("failed to send error report: %w", err)
	}

	n.logger.Info(fmt.Sprintf("Error report with %d failure(s) sent", len(failures)))
	return nil
}
