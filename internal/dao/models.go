package dao

import "time"

type DispatchStatus string

const DispatchStatusSent DispatchStatus = "sent"
const DispatchStatusFailed DispatchStatus = "failed"

type Dispatch struct {
	ID        string         `db:"id"`
	MessageID string         `db:"message_id"`
	Kind      string         `db:"kind"`
	List      string         `db:"list"`
	MailingID string         `db:"mailing_id"`
	Rcpt      string         `db:"rcpt"`
	Status    DispatchStatus `db:"status"`
	Error     string         `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
}

type DispatchSummary struct {
	Sent   int `db:"sent"`
	Failed int `db:"failed"`
}
