package domain

// ResultStatus is the outcome published for a processing attempt
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFail    ResultStatus = "FAIL"
	// ResultRejected means the attempt stopped on an infrastructure fault.
	// The stored transaction keeps its last good status.
	ResultRejected ResultStatus = "REJECTED"
)

// Result is the message published to the result queue
type Result struct {
	ID     string       `json:"id"`
	Status ResultStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// ResultFromTransaction builds the result for a transaction in a terminal status
func ResultFromTransaction(tx *Transaction) Result {
	if tx.Status == StatusSuccess {
		return Result{ID: tx.ID, Status: ResultSuccess}
	}
	msg := tx.ErrorMessage()
	if msg == "" {
		msg = "transaction failed"
	}
	return Result{ID: tx.ID, Status: ResultFail, Error: msg}
}

// NotificationStatus is the customer-facing status sent on the notification feed
type NotificationStatus string

const (
	NotificationNeed3DS  NotificationStatus = "need_3ds"
	NotificationDecline  NotificationStatus = "decline"
	NotificationApproved NotificationStatus = "approved"
)

// RedirectURLKey is the extra_info key a payment interface sets when the
// payer must complete an external confirmation.
const RedirectURLKey = "redirect_url"

// StatusNotification is published on the notification feed
type StatusNotification struct {
	Status NotificationStatus `json:"status"`
	UUID   string             `json:"uuid"`
	URL    string             `json:"url,omitempty"`
}
