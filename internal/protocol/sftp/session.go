package sftp

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// State tracks where a session is in its lifecycle.
type State int32

const (
	// StateConnecting: transport accepted, principal not yet attached.
	StateConnecting State = iota
	// StateServing: an authenticated, subscribed principal is issuing
	// requests.
	StateServing
	// StateClosing: handles are being released and the logout recorded.
	StateClosing
	// StateClosed: the session is gone.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateServing:
		return "serving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection protocol state: the authenticated
// principal, the lifecycle state, and the handle registry. A session
// belongs to exactly one transport connection; its handles are meaningless
// outside it.
//
// Handle IDs are decimal counters, opaque to the client and carrying no
// process pointers. The registry maps them back to open descriptors and
// directory snapshots.
type Session struct {
	ID           string
	UserID       string
	Username     string
	ListenerID   string
	ListenerName string
	ClientAddr   string
	ConnectedAt  time.Time

	state      atomic.Int32
	lastActive atomic.Int64

	mu         sync.Mutex
	nextHandle uint64
	files      map[string]*openFile
	dirs       map[string]*dirSnapshot
}

// openFile is a file handle's backing state.
type openFile struct {
	file        *os.File
	virtualPath string
	localPath   string
	// appendMode handles ignore client offsets; the descriptor appends.
	appendMode bool
}

// dirSnapshot is a directory handle's backing state: the entry list
// captured when the directory was opened, plus the read cursor. Entries
// added or removed afterwards do not affect an open iteration.
type dirSnapshot struct {
	virtualPath string
	entries     []os.DirEntry
	cursor      int
}

// NewSession returns a session in the Connecting state.
func NewSession(id, userID, username, listenerID, listenerName, clientAddr string) *Session {
	s := &Session{
		ID:           id,
		UserID:       userID,
		Username:     username,
		ListenerID:   listenerID,
		ListenerName: listenerName,
		ClientAddr:   clientAddr,
		ConnectedAt:  time.Now(),
		files:        make(map[string]*openFile),
		dirs:         make(map[string]*dirSnapshot),
	}
	s.lastActive.Store(time.Now().UnixNano())
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetState moves the session to the given state.
func (s *Session) SetState(state State) {
	s.state.Store(int32(state))
}

// Touch records request activity for idle accounting.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent request.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) newHandleID() string {
	s.nextHandle++
	return strconv.FormatUint(s.nextHandle, 10)
}

// putFile registers an open file and returns its handle.
func (s *Session) putFile(f *openFile) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newHandleID()
	s.files[id] = f
	return id
}

// putDir registers a directory snapshot and returns its handle.
func (s *Session) putDir(d *dirSnapshot) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newHandleID()
	s.dirs[id] = d
	return id
}

// file resolves a file handle.
func (s *Session) file(handle string) (*openFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[handle]
	return f, ok
}

// dir resolves a directory handle.
func (s *Session) dir(handle string) (*dirSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[handle]
	return d, ok
}

// closeHandle releases one handle of either kind. found reports whether
// the handle existed in this session.
func (s *Session) closeHandle(handle string) (found bool, err error) {
	s.mu.Lock()
	f, isFile := s.files[handle]
	if isFile {
		delete(s.files, handle)
	}
	_, isDir := s.dirs[handle]
	if isDir {
		delete(s.dirs, handle)
	}
	s.mu.Unlock()

	if isFile {
		return true, f.file.Close()
	}
	return isDir, nil
}

// CloseAll releases every handle. Called when the session enters Closing.
func (s *Session) CloseAll() {
	s.mu.Lock()
	files := s.files
	s.files = make(map[string]*openFile)
	s.dirs = make(map[string]*dirSnapshot)
	s.mu.Unlock()

	for _, f := range files {
		_ = f.file.Close()
	}
}

// OpenHandles returns the number of live handles.
func (s *Session) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files) + len(s.dirs)
}
