package supervisor

import (
	"sort"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/adapter"
)

// session is one live authenticated session. closeFn force-drops the
// transport and may be called at any point in the session's life.
type session struct {
	info    adapter.SessionInfo
	closeFn func()
}

// RegisterSession implements adapter.SessionRegistry. Adapters call it
// once a connection's principal is authenticated.
func (s *Supervisor) RegisterSession(info adapter.SessionInfo, closeFn func()) {
	s.sessMu.Lock()
	s.sessions[info.SessionID] = &session{info: info, closeFn: closeFn}
	active := len(s.sessions)
	s.sessMu.Unlock()

	s.metrics.RecordSessionStarted(info.Protocol)
	s.metrics.SetActiveSessions(active)
}

// UnregisterSession implements adapter.SessionRegistry. Unknown session
// IDs are ignored; teardown paths may race and both report the close.
func (s *Supervisor) UnregisterSession(sessionID string) {
	s.sessMu.Lock()
	_, known := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	active := len(s.sessions)
	s.sessMu.Unlock()

	if known {
		s.metrics.SetActiveSessions(active)
	}
}

// ActiveSessions returns a snapshot of live sessions across all
// listeners, oldest first.
func (s *Supervisor) ActiveSessions() []adapter.SessionInfo {
	s.sessMu.RLock()
	out := make([]adapter.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info)
	}
	s.sessMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// DisconnectSession force-drops the session's transport and reports
// whether a matching session existed. The session unregisters itself
// through the adapter's teardown, not here.
func (s *Supervisor) DisconnectSession(sessionID string) bool {
	s.sessMu.RLock()
	sess, ok := s.sessions[sessionID]
	s.sessMu.RUnlock()
	if !ok {
		return false
	}

	logger.Info("disconnecting session",
		logger.KeySessionID, sessionID,
		logger.KeyUsername, sess.info.Username,
		logger.KeyListener, sess.info.ListenerName)

	// Called without the lock: closing the transport re-enters
	// UnregisterSession from the adapter's close path.
	sess.closeFn()
	return true
}
