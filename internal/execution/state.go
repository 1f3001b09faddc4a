package execution

import "time"

type Phase string

const (
	PhaseBuilding   Phase = "building"
	PhaseSimulating Phase = "simulating"
	PhaseRiskCheck  Phase = "risk_check"
	PhaseSending    Phase = "sending"
	PhaseConfirming Phase = "confirming"
	PhaseConfirmed  Phase = "confirmed"
	PhaseFailed     Phase = "failed"
	PhaseVetoed     Phase = "vetoed"
	PhaseRetrying   Phase = "retrying"
	PhaseAdvisory   Phase = "advisory"
)

// State is a progress event. Observers must not rely on it for control flow.
type State struct {
	ExecutionID   string        `json:"execution_id"`
	Phase         Phase         `json:"phase"`
	Attempt       int           `json:"attempt"`
	Description   string        `json:"description,omitempty"`
	Signature     string        `json:"signature,omitempty"`
	UnitsConsumed uint64        `json:"units_consumed,omitempty"`
	Slot          uint64        `json:"slot,omitempty"`
	Error         string        `json:"error,omitempty"`
	Retryable     bool          `json:"retryable,omitempty"`
	Delay         time.Duration `json:"delay,omitempty"`
	At            time.Time     `json:"at"`
}
