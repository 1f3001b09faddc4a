package execution

import (
	"time"

	"github.com/ggonzalez94/solagent/internal/risk"
)

// JournalEntry is the audit record of one Execute call. Executed is false
// when nothing reached the network (veto, advisory, build failure).
type JournalEntry struct {
	ExecutionID  string               `json:"execution_id"`
	Description  string               `json:"description,omitempty"`
	Mode         Mode                 `json:"mode"`
	Executed     bool                 `json:"executed"`
	Success      bool                 `json:"success"`
	Signature    string               `json:"signature,omitempty"`
	Error        string               `json:"error,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	Attempts     int                  `json:"attempts"`
	Slot         uint64               `json:"slot,omitempty"`
	ComputeUnits uint64               `json:"compute_units,omitempty"`
	Action       *risk.ProposedAction `json:"action,omitempty"`
	Assessment   *risk.Assessment     `json:"assessment,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

func NewJournalEntry(res Result, req Request, executed bool) JournalEntry {
	created := res.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return JournalEntry{
		ExecutionID:  res.ID,
		Description:  res.Description,
		Mode:         res.Mode,
		Executed:     executed,
		Success:      res.Success,
		Signature:    res.Signature,
		Error:        res.Error,
		ErrorCode:    res.ErrorCode,
		Attempts:     res.Attempts,
		Slot:         res.Slot,
		ComputeUnits: res.ComputeUnits,
		Action:       req.Action,
		Assessment:   res.Assessment,
		CreatedAt:    created,
	}
}
