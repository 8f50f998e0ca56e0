// Package approval models tool-use permission requests raised by an agent
// session and the human decisions that resolve them.
//
// It has three parts:
//
//   - [ParseApproval] and [ParseChoice] turn free-text chat replies into
//     structured decisions ("allow", "deny: too risky", "allow Bash", "2").
//   - [Request] describes one pending permission or multiple-choice question.
//     [NewRequest] recognizes structured questions and turns them into
//     choice requests.
//   - [Gate] tracks pending requests per session and guarantees that every
//     request ID is resolved at most once.
//
// # Usage
//
//	gate := approval.NewGate()
//	if err := gate.Open(req); err != nil {
//	    return err // ErrDuplicateRequest
//	}
//
//	d, err := approval.ParseApproval("deny: touches prod")
//	if err != nil {
//	    return err // *errors.ParseError
//	}
//	outcome := approval.OutcomeDenied
//	if d.Allow {
//	    outcome = approval.OutcomeApproved
//	}
//	if _, err := gate.Resolve(req.ID, outcome); err != nil {
//	    return err // ErrAlreadyResolved, ErrUnknownRequest
//	}
//
// # Thread Safety
//
// All methods on [Gate] are safe for concurrent use via an internal mutex.
package approval
