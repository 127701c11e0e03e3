package transaction

// Phase is the coarse-grained stage of a deal's lifecycle. Phases advance one
// step at a time, each behind a gate of ledger tasks.
type Phase string

const (
	PhasePreContract   Phase = "pre_contract"
	PhaseUnderContract Phase = "under_contract"
	PhaseFinancing     Phase = "financing"
	PhaseInsurance     Phase = "insurance"
	PhaseClosingPrep   Phase = "closing_prep"
	PhaseSigning       Phase = "signing"
	PhaseFunding       Phase = "funding"
	PhaseRecording     Phase = "recording"
	PhaseMoving        Phase = "moving"
	PhaseComplete      Phase = "complete"
)

var phaseOrder = []Phase{
	PhasePreContract,
	PhaseUnderContract,
	PhaseFinancing,
	PhaseInsurance,
	PhaseClosingPrep,
	PhaseSigning,
	PhaseFunding,
	PhaseRecording,
	PhaseMoving,
	PhaseComplete,
}

// gateTasks lists the ledger tasks that must be completed before a
// transaction may leave the given phase.
var gateTasks = map[Phase][]string{
	PhasePreContract:   {TaskEarnestMoney, TaskPurchaseAgreementSigned},
	PhaseUnderContract: {TaskLoanApplicationSubmitted},
	PhaseFinancing:     {TaskUnderwritingCleared},
	PhaseInsurance:     {TaskInsuranceBound},
	PhaseClosingPrep:   {TaskDisclosureAcknowledged, TaskFinalWalkThrough},
	PhaseSigning:       {TaskClosingDocsSigned},
	PhaseFunding:       {TaskFundingConfirmed},
	PhaseRecording:     {TaskDeedRecorded},
	PhaseMoving:        {TaskMovingCompleted},
}

// Task template names as seeded in the tasks table.
const (
	TaskEarnestMoney             = "earnest_money_deposited"
	TaskPurchaseAgreementSigned  = "purchase_agreement_signed"
	TaskLoanApplicationSubmitted = "loan_application_submitted"
	TaskUnderwritingCleared      = "underwriting_cleared"
	TaskInsuranceBound           = "insurance_bound"
	TaskDisclosureAcknowledged   = "closing_disclosure_acknowledged"
	TaskFinalWalkThrough         = "final_walk_through"
	TaskClosingDocsSigned        = "closing_docs_signed"
	TaskFundingConfirmed         = "funding_confirmed"
	TaskDeedRecorded             = "deed_recorded"
	TaskMovingCompleted          = "moving_completed"
)

// PhaseOrdinal returns the position of p in the lifecycle, or -1 when p is
// not a known phase.
func PhaseOrdinal(p Phase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase following p and false when p is terminal or
// unknown.
func NextPhase(p Phase) (Phase, bool) {
	idx := PhaseOrdinal(p)
	if idx < 0 || idx >= len(phaseOrder)-1 {
		return p, false
	}
	return phaseOrder[idx+1], true
}

// GateTasks returns the task names gating departure from p. The returned
// slice must not be mutated.
func GateTasks(p Phase) []string {
	return gateTasks[p]
}

// ValidPhase reports whether p names a known phase.
func ValidPhase(p Phase) bool {
	return PhaseOrdinal(p) >= 0
}
