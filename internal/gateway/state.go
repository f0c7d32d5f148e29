package gateway

// State is the step a request has reached.
type State int

const (
	StateAuthenticating State = iota
	StateSelecting
	StateKeyResolving
	StateDispatching
	StateTranslating
	StateLogging
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateAuthenticating: "authenticating",
	StateSelecting:      "selecting",
	StateKeyResolving:   "key_resolving",
	StateDispatching:    "dispatching",
	StateTranslating:    "translating",
	StateLogging:        "logging",
	StateDone:           "done",
	StateErrored:        "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
