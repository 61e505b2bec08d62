package event

const (
	// ClinicReportMessagesQueue carries clinic emails fetched by the mailbox poller.
	ClinicReportMessagesQueue = "clinic_report_messages"
	// PushNotiQueue is read by the notification delivery service.
	PushNotiQueue = "push_noti_events"
)

// NotificationEventPushModel is the payload the notification delivery service expects.
type NotificationEventPushModel struct {
	LstUserIds []string       `json:"lstUserIds,omitempty"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}
