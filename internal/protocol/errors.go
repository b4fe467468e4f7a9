package protocol

const (
	// Input/configuration validation.
	ErrBadScenario     = "E_BAD_SCENARIO"
	ErrBadTuning       = "E_BAD_TUNING"
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Execution layer.
	ErrExecution      = "E_EXECUTION"
	ErrLabelNotActive = "E_LABEL_NOT_ACTIVE"
	ErrDirection      = "E_DIRECTION"
	ErrNotProgrammed  = "E_NOT_PROGRAMMED"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadScenario:     {},
	ErrBadTuning:       {},
	ErrProtoBadRequest: {},
	ErrExecution:       {},
	ErrLabelNotActive:  {},
	ErrDirection:       {},
	ErrNotProgrammed:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
