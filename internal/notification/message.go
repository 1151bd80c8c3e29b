package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/parse"
)

// Kind distinguishes slot alerts from monitor warnings.
type Kind string

const (
	KindSlotsFound Kind = "slots_found"
	KindError      Kind = "error"
	KindTest       Kind = "test"
)

// SlotLine is one slot as shown to a user.
type SlotLine struct {
	Date time.Time
	Time string
}

func (s SlotLine) String() string {
	if s.Time == "" {
		return parse.FormatDate(s.Date)
	}
	return parse.FormatDate(s.Date) + " " + s.Time
}

// Message is the channel-independent content of a notification.
type Message struct {
	Kind        Kind
	Title       string
	Body        string
	MonitorID   string
	Center      model.Center
	ProfileName string
	Slots       []SlotLine
	URL         string
}

// SlotsFoundMessage announces newly discovered slots.
func SlotsFoundMessage(m *model.Monitor, profileName string, slots []model.Slot, url string) Message {
	lines := make([]SlotLine, 0, len(slots))
	for _, s := range slots {
		lines = append(lines, SlotLine{Date: s.SlotDate, Time: s.SlotTime})
	}
	return Message{
		Kind:        KindSlotsFound,
		Title:       "BLS appointment slot available!",
		Body:        fmt.Sprintf("Found %d appointment slot(s) at %s", len(slots), m.Center.Label()),
		MonitorID:   m.ID,
		Center:      m.Center,
		ProfileName: profileName,
		Slots:       lines,
		URL:         url,
	}
}

// ErrorMessage warns that a monitor keeps failing.
func ErrorMessage(m *model.Monitor, errorCount int, lastError string) Message {
	return Message{
		Kind:      KindError,
		Title:     "BLS monitor is failing",
		Body:      fmt.Sprintf("%d consecutive checks failed for %s. Last error: %s", errorCount, m.Center.Label(), lastError),
		MonitorID: m.ID,
		Center:    m.Center,
	}
}

// PingMessage confirms that a channel is set up.
func PingMessage() Message {
	return Message{
		Kind:  KindTest,
		Title: "Test Notification",
		Body:  "This is a test notification from the BLS slot monitor. Your notifications are working.",
	}
}

// Text renders the message for SMS and WhatsApp.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteString("\n\n")
	b.WriteString(m.Body)
	if m.Center != "" {
		b.WriteString("\n\nCenter: ")
		b.WriteString(m.Center.Label())
	}
	for _, s := range m.Slots {
		b.WriteString("\n- ")
		b.WriteString(s.String())
	}
	if m.Kind == KindSlotsFound {
		b.WriteString("\n\nVisit the BLS website to book.")
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// Markdown renders the message for Telegram's legacy Markdown mode.
func (m Message) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n%s", markdownEscaper.Replace(m.Title), markdownEscaper.Replace(m.Body))
	if m.Center != "" {
		fmt.Fprintf(&b, "\n\n*Center:* %s", markdownEscaper.Replace(m.Center.Label()))
	}
	if m.ProfileName != "" {
		fmt.Fprintf(&b, "\n*Profile:* %s", markdownEscaper.Replace(m.ProfileName))
	}
	for _, s := range m.Slots {
		fmt.Fprintf(&b, "\n• %s", s.String())
	}
	return b.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
  body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
  .container { max-width: 600px; margin: 0 auto; padding: 20px; }
  .header { background: #1a365d; color: white; padding: 20px; text-align: center; }
  .content { padding: 20px; background: #f9f9f9; }
  .slot-info { background: white; padding: 15px; margin: 10px 0; border-left: 4px solid #2d6ef5; }
</style>
</head>
<body>
<div class="container">
  <div class="header"><h1>{{.Title}}</h1></div>
  <div class="content">
    <p>{{.Body}}</p>
    {{- if .Center}}
    <div class="slot-info">
      <strong>Center:</strong> {{.Center.Label}}<br>
      {{- if .ProfileName}}
      <strong>Profile:</strong> {{.ProfileName}}<br>
      {{- end}}
      {{- range .Slots}}
      <strong>Slot:</strong> {{.String}}<br>
      {{- end}}
    </div>
    {{- end}}
    {{- if .URL}}
    <p><a href="{{.URL}}">Open the booking page</a></p>
    {{- end}}
    <p>Please visit the BLS website to book your appointment.</p>
  </div>
</div>
</body>
</html>
`))

// HTML renders the email body.
func (m Message) HTML() (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, m); err != nil {
		return "", goerr.Wrap(err, "failed to render email", goerr.V("monitor_id", m.MonitorID))
	}
	return buf.String(), nil
}

type pushPayload struct {
	Kind      Kind     `json:"kind"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	MonitorID string   `json:"monitorId"`
	Center    string   `json:"center"`
	Slots     []string `json:"slots,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// PushPayload is the JSON document delivered to browser service workers.
func (m Message) PushPayload() ([]byte, error) {
	p := pushPayload{
		Kind:      m.Kind,
		Title:     m.Title,
		Body:      m.Body,
		MonitorID: m.MonitorID,
		Center:    m.Center.Label(),
		URL:       m.URL,
	}
	for _, s := range m.Slots {
		p.Slots = append(p.Slots, s.String())
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode push payload")
	}
	return b, nil
}
