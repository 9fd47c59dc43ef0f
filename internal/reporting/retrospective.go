// Package reporting keeps a journal of gateway operations and summarizes it
// into a retrospective report.
package reporting

import (
	"sync"
	"time"
)

// Status is the outcome of a journaled operation.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusFailure        Status = "FAILURE"
	StatusActionRequired Status = "ACTION_REQUIRED"
)

// LogEntry is a single journaled gateway operation.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	PaymentID string    `json:"payment_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    Status    `json:"status"`
	// Amount is the minor-unit amount the operation moved, zero if none.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Provider string `json:"provider,omitempty"`
	// ErrorCode is the failure kind, ErrorMessage its message.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RetrospectiveReport summarizes journaled operations.
type RetrospectiveReport struct {
	TotalOperations int `json:"total_operations"`
	Successful      int `json:"successful"`
	Failed          int `json:"failed"`
	ActionRequired  int `json:"action_required"`
	// AmountByOperation sums successful amounts per operation and currency.
	AmountByOperation  map[string]map[string]int64 `json:"amount_by_operation"`
	ErrorBreakdown     map[string]int              `json:"error_breakdown"`
	OperationBreakdown map[string]int              `json:"operation_breakdown"`
	ProviderUsage      map[string]int              `json:"provider_usage"`
	DateFrom           time.Time                   `json:"date_from"`
	DateTo             time.Time                   `json:"date_to"`
	ProcessingDuration time.Duration               `json:"processing_duration"`
}

const defaultJournalLimit = 10000

// Journal is a bounded in-memory log of operations. Once full, the oldest
// entries are dropped.
type Journal struct {
	mu      sync.Mutex
	entries []LogEntry
	limit   int
}

// NewJournal creates a Journal holding at most limit entries; limit <= 0 uses a default.
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	return &Journal{limit: limit}
}

// Record appends e.
func (j *Journal) Record(e LogEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) >= j.limit {
		copy(j.entries, j.entries[1:])
		j.entries = j.entries[:len(j.entries)-1]
	}
	j.entries = append(j.entries, e)
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]LogEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// RetrospectiveReporter generates retrospective reports from log entries.
type RetrospectiveReporter struct{}

func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes logs and produces a RetrospectiveReport.
func (rr *RetrospectiveReporter) GenerateRetrospective(logs []LogEntry) *RetrospectiveReport {
	report := &RetrospectiveReport{
		AmountByOperation:  make(map[string]map[string]int64),
		ErrorBreakdown:     make(map[string]int),
		OperationBreakdown: make(map[string]int),
		ProviderUsage:      make(map[string]int),
	}

	for i, log := range logs {
		report.TotalOperations++
		if i == 0 || log.Timestamp.Before(report.DateFrom) {
			report.DateFrom = log.Timestamp
		}
		if i == 0 || log.Timestamp.After(report.DateTo) {
			report.DateTo = log.Timestamp
		}
		if log.Provider != "" {
			report.ProviderUsage[log.Provider]++
		}
		report.OperationBreakdown[log.Operation]++

		switch log.Status {
		case StatusSuccess:
			report.Successful++
			if log.Amount != 0 {
				byCurrency, ok := report.AmountByOperation[log.Operation]
				if !ok {
					byCurrency = make(map[string]int64)
					report.AmountByOperation[log.Operation] = byCurrency
				}
				byCurrency[log.Currency] += log.Amount
			}
		case StatusFailure:
			report.Failed++
			if log.ErrorCode != "" {
				report.ErrorBreakdown[log.ErrorCode]++
			}
		case StatusActionRequired:
			report.ActionRequired++
		}
	}
	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report
}
