package notification

import (
	"fmt"
	"html"
	"strings"
	"sync"
)

// Template IDs used by the referral, billing and payment services.
const (
	TplReferralCreated  = "referral-created"
	TplReferralAccepted = "referral-accepted"
	TplReferralRejected = "referral-rejected"
	TplBedAssigned      = "bed-assigned"
	TplBillCreated      = "bill-created"
	TplBillOverdue      = "bill-overdue"
	TplPaymentReceipt   = "payment-receipt"
)

type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders. Values are HTML-escaped in
// the body but not in the subject.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtIn {
		e.templates[t.ID] = t
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TplReferralCreated,
		Subject: "You have been referred to {{hospital}}",
		Body:    "<p>Dear {{patient_name}},</p><p>Dr. {{doctor}} has referred you to {{hospital}} for {{care_type}} care. The hospital will confirm your admission shortly.</p>",
	},
	{
		ID:      TplReferralAccepted,
		Subject: "Your referral to {{hospital}} was accepted",
		Body:    "<p>Dear {{patient_name}},</p><p>{{hospital}} has accepted your referral. Estimated charges: {{final_price}}.</p>",
	},
	{
		ID:      TplReferralRejected,
		Subject: "Update on your referral to {{hospital}}",
		Body:    "<p>Dear {{patient_name}},</p><p>{{hospital}} could not accept your referral: {{reason}}</p>",
	},
	{
		ID:      TplBedAssigned,
		Subject: "Admission details from {{hospital}}",
		Body:    "<p>Dear {{patient_name}},</p><p>You have been assigned room {{room}}, bed {{bed}}. Please report on {{date}} at {{time}}.</p>",
	},
	{
		ID:      TplBillCreated,
		Subject: "Bill {{bill_number}} from {{hospital}}",
		Body:    "<p>Dear {{patient_name}},</p><p>Bill {{bill_number}} for {{total}} has been issued and is due on {{due_date}}.</p>",
	},
	{
		ID:      TplBillOverdue,
		Subject: "Payment reminder for bill {{bill_number}}",
		Body:    "<p>Dear {{patient_name}},</p><p>Bill {{bill_number}} has an outstanding balance of {{amount_due}}, due on {{due_date}}.</p>",
	},
	{
		ID:      TplPaymentReceipt,
		Subject: "Payment received: {{amount}}",
		Body:    "<p>Dear {{patient_name}},</p><p>We received {{amount}} via {{method}} (transaction {{transaction_id}}). Outstanding balance: {{amount_due}}.</p>",
	},
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills the template. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, html.EscapeString(v))
	}
	return subject, body, nil
}
