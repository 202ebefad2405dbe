package model

// Outcome is the terminal state of one engine iteration.
type Outcome int

const (
	// ResultContinue asks the engine to request another completion.
	ResultContinue Outcome = iota
	// ResultVoid ends the turn without a value.
	ResultVoid
	// ResultResponse ends the turn with Result.Value.
	ResultResponse
)

// Result is the outcome of one engine iteration and, for ResultResponse,
// the produced value.
type Result struct {
	Outcome Outcome
	Value   any
}

func (o Outcome) String() string {
	switch o {
	case ResultContinue:
		return "continue"
	case ResultVoid:
		return "void"
	case ResultResponse:
		return "response"
	default:
		return "unknown"
	}
}
