package build

import (
	"context"
)

type sessionKey struct{}

// session carries the state of one top level operation
type session struct {
	ws *Workspace
	// trail lists the projects being prepared, outermost first
	trail []string
	// failed holds projects whose preparation recorded errors
	failed map[string]bool
}

func (s *session) enter(name string) error {
	for i, n := range s.trail {
		if n == name {
			chain := append([]string(nil), s.trail[i:]...)
			return &CircularDependencyError{Chain: chain}
		}
	}
	s.trail = append(s.trail, name)
	return nil
}

func (s *session) leave(name string) {
	for i := len(s.trail) - 1; i >= 0; i-- {
		if s.trail[i] == name {
			s.trail = append(s.trail[:i], s.trail[i+1:]...)
			return
		}
	}
}

func sessionFrom(ctx context.Context, ws *Workspace) *session {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok && s.ws == ws {
		return s
	}
	return nil
}

// begin starts a top level operation. Nested calls that carry the session
// in their context run inside the outer operation.
func (w *Workspace) begin(ctx context.Context) (context.Context, func()) {
	if sessionFrom(ctx, w) != nil {
		return ctx, func() {}
	}
	w.opMu.Lock()
	s := &session{ws: w, failed: make(map[string]bool)}
	return context.WithValue(ctx, sessionKey{}, s), w.opMu.Unlock
}
