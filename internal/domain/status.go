package domain

// Status is the processing status of a transaction. A non-terminal status
// names the stage the transaction will run next.
type Status string

const (
	StatusAccepted           Status = "ACCEPTED"
	StatusAuthSource         Status = "AUTH_SOURCE"
	StatusAuthDestination    Status = "AUTH_DESTINATION"
	StatusCaptureSource      Status = "CAPTURE_SOURCE"
	StatusCaptureDestination Status = "CAPTURE_DESTINATION"
	StatusVoid               Status = "VOID"
	StatusSuccess            Status = "SUCCESS"
	StatusFail               Status = "FAIL"
)

// IsTerminal returns true for SUCCESS and FAIL
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// Step names a payment interface operation
type Step string

const (
	StepAuthSource         Step = "auth_source"
	StepAuthDestination    Step = "auth_destination"
	StepCaptureSource      Step = "capture_source"
	StepCaptureDestination Step = "capture_destination"
	StepVoid               Step = "void"
)

// Steps lists every payment interface operation
var Steps = []Step{
	StepAuthSource,
	StepAuthDestination,
	StepCaptureSource,
	StepCaptureDestination,
	StepVoid,
}

// StepFor returns the payment interface step run by the stage for s.
// ACCEPTED and the terminal statuses have no step.
func StepFor(s Status) (Step, bool) {
	switch s {
	case StatusAuthSource:
		return StepAuthSource, true
	case StatusAuthDestination:
		return StepAuthDestination, true
	case StatusCaptureSource:
		return StepCaptureSource, true
	case StatusCaptureDestination:
		return StepCaptureDestination, true
	case StatusVoid:
		return StepVoid, true
	}
	return "", false
}
