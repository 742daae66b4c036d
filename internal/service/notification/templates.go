package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/jwalitptl/bloodbank-api/internal/model"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(kind model.NotificationKind, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(string(kind) + "_subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(string(kind) + "_body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[model.NotificationKind]messageTemplate{
	model.NotificationUnitIssued: mustTemplate(model.NotificationUnitIssued,
		`Unit {{.unit_id}} issued`,
		`Blood unit {{.unit_id}} ({{.blood_type}}) was issued by {{.issued_by}}.
Request: {{.request_reference}}
Recipient facility: {{.recipient_facility}}
`),
	model.NotificationUnitQuarantined: mustTemplate(model.NotificationUnitQuarantined,
		`Unit {{.unit_id}} quarantined`,
		`Blood unit {{.unit_id}} ({{.blood_type}}) was moved to quarantine.
Screening status: {{.screening}}
Reason: {{.reason}}
`),
	model.NotificationUnitsExpired: mustTemplate(model.NotificationUnitsExpired,
		`{{.count}} blood units expired`,
		`The expiry sweep on {{.date}} expired {{.count}} units.
Units: {{.unit_ids}}
`),
	model.NotificationLowStock: mustTemplate(model.NotificationLowStock,
		`Low stock: {{.blood_type}}`,
		`Only {{.remaining}} available units of {{.blood_type}} remain (threshold {{.threshold}}).
`),
}

// Render produces the subject and body for a notification kind.
func Render(kind model.NotificationKind, vars map[string]string) (string, string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", kind)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, vars); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	if err := t.body.Execute(&body, vars); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return subject.String(), body.String(), nil
}
