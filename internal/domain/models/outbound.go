package models

// OutboundMessageRequest represents requests to send a message manually via the API.
type OutboundMessageRequest struct {
	To         string `json:"to" binding:"required"`
	Message    string `json:"message" binding:"required"`
	PreviewURL bool   `json:"preview_url"`
}

// AlarmKind distinguishes the one-shot signals sent to the kitchen.
type AlarmKind string

const (
	AlarmTimerFinished AlarmKind = "timer_finished"
	AlarmNewQueued     AlarmKind = "new_queued"
	AlarmReminder      AlarmKind = "timer_reminder"
)

// Alarm is a signal delivered through the notification sink.
type Alarm struct {
	Kind     AlarmKind `json:"kind"`
	RecordID string    `json:"record_id"`
	ItemName string    `json:"item_name"`
	LotID    string    `json:"lot_id,omitempty"`
	Batch    int       `json:"batch,omitempty"`
	Message  string    `json:"message"`
}
