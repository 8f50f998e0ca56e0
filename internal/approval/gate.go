package approval

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/tether/internal/errors"
)

// Outcome is how a request left the pending state.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeDenied       Outcome = "denied"
	OutcomeAutoApproved Outcome = "auto_approved"
	// OutcomeCancelled means the session exited before anyone decided.
	// It is neither an approval nor a denial.
	OutcomeCancelled Outcome = "cancelled"
)

// Gate tracks pending requests per session in arrival order and records
// every request ID it has seen so that each is resolved at most once.
type Gate struct {
	mu       sync.Mutex
	pending  map[string][]Request // sessionID -> FIFO of pending requests
	resolved map[string]resolution
}

type resolution struct {
	req     Request
	outcome Outcome
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{
		pending:  make(map[string][]Request),
		resolved: make(map[string]resolution),
	}
}

// Open records req as pending. It fails with ErrDuplicateRequest if the ID
// is already pending or was resolved before.
func (g *Gate) Open(req Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.resolved[req.ID]; ok {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateRequest, req.ID)
	}
	if _, ok := g.findLocked(req.ID); ok {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateRequest, req.ID)
	}
	g.pending[req.SessionID] = append(g.pending[req.SessionID], req)
	return nil
}

// Pending returns the oldest pending request for a session.
func (g *Gate) Pending(sessionID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := g.pending[sessionID]
	if len(queue) == 0 {
		return Request{}, false
	}
	return queue[0], true
}

// PendingCount returns the number of pending requests for a session.
func (g *Gate) PendingCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending[sessionID])
}

// Get returns a pending request by ID.
func (g *Gate) Get(requestID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loc, ok := g.findLocked(requestID)
	if !ok {
		return Request{}, false
	}
	return g.pending[loc.session][loc.index], true
}

// Resolve removes a pending request and records its outcome. Resolving an
// ID twice fails with ErrAlreadyResolved; an ID never opened fails with
// ErrUnknownRequest.
func (g *Gate) Resolve(requestID string, outcome Outcome) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.resolved[requestID]; ok {
		return prev.req, fmt.Errorf("%w: %s (%s)", errors.ErrAlreadyResolved, requestID, prev.outcome)
	}
	loc, ok := g.findLocked(requestID)
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", errors.ErrUnknownRequest, requestID)
	}

	queue := g.pending[loc.session]
	req := queue[loc.index]
	g.removeLocked(loc)
	g.resolved[requestID] = resolution{req: req, outcome: outcome}
	return req, nil
}

// Reopen undoes a Resolve whose side effect failed, putting the request
// back at the head of its session's queue.
func (g *Gate) Reopen(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resolved[requestID]
	if !ok || res.outcome == OutcomeCancelled {
		return false
	}
	delete(g.resolved, requestID)
	sessionID := res.req.SessionID
	g.pending[sessionID] = append([]Request{res.req}, g.pending[sessionID]...)
	return true
}

// Outcome reports how a request was resolved.
func (g *Gate) Outcome(requestID string) (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resolved[requestID]
	return res.outcome, ok
}

// CancelSession resolves every pending request of a session as cancelled
// and returns them in arrival order.
func (g *Gate) CancelSession(sessionID string) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := g.pending[sessionID]
	delete(g.pending, sessionID)
	for _, req := range queue {
		g.resolved[req.ID] = resolution{req: req, outcome: OutcomeCancelled}
	}
	return queue
}

// Forget drops all state for a session, including the record of resolved
// IDs. Call it only once the session is gone for good.
func (g *Gate) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.pending, sessionID)
	for id, res := range g.resolved {
		if res.req.SessionID == sessionID {
			delete(g.resolved, id)
		}
	}
}

type location struct {
	session string
	index   int
}

func (g *Gate) findLocked(requestID string) (location, bool) {
	for sessionID, queue := range g.pending {
		for i, req := range queue {
			if req.ID == requestID {
				return location{session: sessionID, index: i}, true
			}
		}
	}
	return location{}, false
}

func (g *Gate) removeLocked(loc location) {
	queue := g.pending[loc.session]
	rest := make([]Request, 0, len(queue)-1)
	rest = append(rest, queue[:loc.index]...)
	rest = append(rest, queue[loc.index+1:]...)
	if len(rest) == 0 {
		delete(g.pending, loc.session)
		return
	}
	g.pending[loc.session] = rest
}
