package contract

import (
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

const FallbackMessage = "We are unable to process your request at the moment. Please try again."

// Classify maps the session's latest structured result to an Outcome. It only reads.
func Classify(s *statex.Session) Outcome {
	if s == nil || s.Result == nil {
		return FallbackOutcome()
	}

	switch s.Result.Status {
	case statex.StatusCompleted:
		return Outcome{IsTaskComplete: true, RequireUserInput: false, Content: s.Result.Message}
	case statex.StatusInputRequired, statex.StatusError:
		return Outcome{IsTaskComplete: false, RequireUserInput: true, Content: s.Result.Message}
	default:
		return FallbackOutcome()
	}
}

func FallbackOutcome() Outcome {
	return Outcome{IsTaskComplete: false, RequireUserInput: true, Content: FallbackMessage}
}
