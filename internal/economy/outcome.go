package economy

// Machine-stable reason codes. These are the contract with API and
// strategy callers; never change a published code.
const (
	ReasonSuccess              = "success"
	ReasonAgentNotFound        = "agent_not_found"
	ReasonJobNotFound          = "job_not_found"
	ReasonItemNotFound         = "item_not_found"
	ReasonBuildingNotFound     = "building_not_found"
	ReasonOrderNotFound        = "order_not_found"
	ReasonInvalidAmount        = "invalid_amount"
	ReasonInsufficientResource = "insufficient_resource"
	ReasonInsufficientCredits  = "insufficient_credits"
	ReasonJobFull              = "job_full"
	ReasonBuildingFull         = "building_full"
	ReasonAlreadyCheckedIn     = "already_checked_in"
	ReasonAlreadyOwned         = "already_owned"
	ReasonAlreadyAssigned      = "already_assigned"
	ReasonWorkerNotAssigned    = "worker_not_assigned"
	ReasonNotOwner             = "not_owner"
	ReasonNotCancellable       = "not_cancellable"
	ReasonOrderClosed          = "order_closed"
	ReasonBuildingNotActive    = "building_not_active"
	ReasonUnknownBuildingType  = "unknown_building_type"
)

// Outcome is the result of a mutating operation. Expected failures
// (precondition not met) are communicated here, never as errors;
// ok=false always carries a machine-stable reason code.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Ok is the success outcome.
func Ok() Outcome {
	return Outcome{OK: true, Reason: ReasonSuccess}
}

// Fail builds a failure outcome with the given reason code.
func Fail(reason string) Outcome {
	return Outcome{OK: false, Reason: reason}
}

// errOutcome is a sentinel carrying a business failure out of a
// transaction closure so the store rolls the transaction back without
// treating the condition as an infrastructure error.
type errOutcome struct {
	reason string
}

func (e errOutcome) Error() string {
	return "outcome: " + e.reason
}

func failTx(reason string) error {
	return errOutcome{reason: reason}
}

// asOutcome converts an error returned by WithTx into an Outcome when
// it is a business failure, passing infrastructure errors through.
func asOutcome(err error) (Outcome, error, bool) {
	if err == nil {
		return Ok(), nil, true
	}
	if eo, ok := err.(errOutcome); ok {
		return Fail(eo.reason), nil, true
	}
	return Outcome{}, err, false
}
