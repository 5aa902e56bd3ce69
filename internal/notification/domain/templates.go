package domain

import (
	"sort"
	"strings"
)

type EventType string

const (
	EventJobApplication    EventType = "job_application"
	EventJobAccepted       EventType = "job_accepted"
	EventJobCompleted      EventType = "job_completed"
	EventPaymentReceived   EventType = "payment_received"
	EventReviewReceived    EventType = "review_received"
	EventMessageReceived   EventType = "message_received"
	EventBookingReminder   EventType = "booking_reminder"
	EventSystemMaintenance EventType = "system_maintenance"
)

// EventTemplate holds the copy for one event type. Patterns use {name} placeholders.
type EventTemplate struct {
	Title      string
	Message    string
	ActionURL  string
	ActionText string
	Priority   Priority
}

var eventTemplates = map[EventType]EventTemplate{
	EventJobApplication: {
		Title:      "Ny ansökan",
		Message:    "{applicant_name} har ansökt till ditt jobb \"{job_title}\".",
		ActionURL:  "/jobs/{job_id}/applications",
		ActionText: "Visa ansökan",
		Priority:   PriorityHigh,
	},
	EventJobAccepted: {
		Title:      "Du har fått jobbet!",
		Message:    "Din ansökan till \"{job_title}\" har accepterats.",
		ActionURL:  "/bookings/{booking_id}",
		ActionText: "Visa bokning",
		Priority:   PriorityHigh,
	},
	EventJobCompleted: {
		Title:      "Jobbet är klart",
		Message:    "\"{job_title}\" har markerats som slutfört.",
		ActionURL:  "/bookings/{booking_id}/review",
		ActionText: "Lämna omdöme",
		Priority:   PriorityNormal,
	},
	EventPaymentReceived: {
		Title:      "Betalning mottagen",
		Message:    "Du har fått en betalning på {amount} {currency}.",
		ActionURL:  "/payments/{payment_id}",
		ActionText: "Visa betalning",
		Priority:   PriorityHigh,
	},
	EventReviewReceived: {
		Title:      "Nytt omdöme",
		Message:    "{reviewer_name} gav dig {rating} av 5 stjärnor.",
		ActionURL:  "/profile/reviews",
		ActionText: "Visa omdöme",
		Priority:   PriorityNormal,
	},
	EventMessageReceived: {
		Title:      "Nytt meddelande",
		Message:    "{sender_name}: {preview}",
		ActionURL:  "/messages/{conversation_id}",
		ActionText: "Svara",
		Priority:   PriorityNormal,
	},
	EventBookingReminder: {
		Title:      "Påminnelse om bokning",
		Message:    "\"{job_title}\" börjar {start_time}.",
		ActionURL:  "/bookings/{booking_id}",
		ActionText: "Visa bokning",
		Priority:   PriorityHigh,
	},
	EventSystemMaintenance: {
		Title:      "Planerat underhåll",
		Message:    "Tjänsten är otillgänglig {start_time} till {end_time}.",
		ActionURL:  "",
		ActionText: "",
		Priority:   PriorityUrgent,
	},
}

// LookupEventTemplate returns the copy registered for event.
func LookupEventTemplate(event EventType) (EventTemplate, bool) {
	tpl, ok := eventTemplates[event]
	return tpl, ok
}

// EventTypes lists every registered event type in stable order.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(eventTemplates))
	for event := range eventTemplates {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render fills the placeholders with params. Unknown placeholders are left as-is.
func (t EventTemplate) Render(event EventType, params map[string]string) Template {
	replacer := newReplacer(params)
	out := Template{
		Type:     string(event),
		Title:    replacer.Replace(t.Title),
		Message:  replacer.Replace(t.Message),
		Priority: t.Priority,
	}
	if t.ActionURL != "" {
		url := replacer.Replace(t.ActionURL)
		out.ActionURL = &url
	}
	if t.ActionText != "" {
		text := t.ActionText
		out.ActionText = &text
	}
	return out
}

func newReplacer(params map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(params)*2)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", params[key])
	}
	return strings.NewReplacer(pairs...)
}
