package observer

import (
	"fmt"
	"time"

	"fleetwatch/internal/model"
)

// Attachment is set for log deliveries, which are shown as a file.
type Attachment struct {
	Name string
	Body string
}

type Event struct {
	Alert      model.Alert
	Text       string
	Attachment *Attachment
	ReceivedAt time.Time
}

// Render builds the operator-facing text for an alert.
func Render(alert model.Alert, at time.Time) Event {
	header := fmt.Sprintf("🤖 %s | %s", alert.Project, alert.Worker)
	event := Event{Alert: alert, ReceivedAt: at}
	switch alert.Type {
	case model.AlertTypeError:
		event.Text = fmt.Sprintf("🔴 ALARM:\n%s\n\n%s", header, alert.Text)
	case model.AlertTypeSuccess:
		event.Text = fmt.Sprintf("✅ FINISHED:\n%s\n\n%s", header, alert.Text)
	case model.AlertTypeWorkerFinished:
		event.Text = fmt.Sprintf("🏁 JOB COMPLETED:\n%s\n\n%s", header, alert.Text)
	case model.AlertTypeLogDelivery:
		event.Text = fmt.Sprintf("📄 Log Received\n%s", header)
		event.Attachment = &Attachment{
			Name: fmt.Sprintf("log_%s_%s.txt", alert.Worker, at.Format("15-04")),
			Body: alert.Text,
		}
	case model.AlertTypeLog:
		event.Text = fmt.Sprintf("📝 LOG:\n%s\n\n%s", header, alert.Text)
	default:
		event.Text = fmt.Sprintf("ℹ️ INFO:\n%s\n\n%s", header, alert.Text)
	}
	return event
}
