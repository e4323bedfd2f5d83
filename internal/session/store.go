package session

import (
	"errors"
	"sync"
	"time"

	"github.com/hearth-security/hearth-server/internal/models"
)

// MaxNonces bounds the per-session nonce set. The set is cleared when full;
// replay of an accepted frame is still caught by the sequence check.
const MaxNonces = 512

var (
	// ErrStaleSequence is returned when seq is not above lastSeqIn
	ErrStaleSequence = errors.New("stale sequence number")

	// ErrReplayedNonce is returned for a nonce already accepted in this window
	ErrReplayedNonce = errors.New("nonce already seen")
)

// Transport is the connection a session writes to
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Session is the per-connection authenticated state of one device
type Session struct {
	DeviceID      models.SerialID
	EstablishedAt time.Time

	key       []byte
	transport Transport

	mu           sync.Mutex
	lastSeqIn    uint64
	lastSeqOut   uint64
	nonces       map[string]struct{}
	lastActivity time.Time
}

// Key returns the session key
func (s *Session) Key() []byte {
	return s.key
}

// Send writes data to the session's transport
func (s *Session) Send(data []byte) error {
	return s.transport.Send(data)
}

// LastSeqIn returns the highest accepted inbound sequence number
func (s *Session) LastSeqIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeqIn
}

// LastActivity returns the time of the last accepted frame
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CheckSequence reports whether seq would be accepted
func (s *Session) CheckSequence(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeqIn {
		return ErrStaleSequence
	}
	return nil
}

// CheckNonce reports whether nonce would be accepted
func (s *Session) CheckNonce(nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nonces[nonce]; ok {
		return ErrReplayedNonce
	}
	return nil
}

// NextSeqOut increments and returns the outbound sequence number
func (s *Session) NextSeqOut() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeqOut++
	return s.lastSeqOut
}

func (s *Session) touch(seq uint64, nonce string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.lastSeqIn {
		return ErrStaleSequence
	}
	if _, ok := s.nonces[nonce]; ok {
		return ErrReplayedNonce
	}

	if len(s.nonces) >= MaxNonces {
		s.nonces = make(map[string]struct{}, MaxNonces)
	}
	s.nonces[nonce] = struct{}{}
	s.lastSeqIn = seq
	s.lastActivity = now
	return nil
}

// Store is the registry of live sessions, at most one per device
type Store struct {
	mu       sync.Mutex
	sessions map[models.SerialID]*Session
	now      func() time.Time
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions: make(map[models.SerialID]*Session),
		now:      time.Now,
	}
}

// Create registers a new session for deviceID. A previous session for the
// same device is replaced and its transport closed.
func (st *Store) Create(deviceID models.SerialID, transport Transport, key []byte) *Session {
	now := st.now()
	sess := &Session{
		DeviceID:      deviceID,
		EstablishedAt: now,
		key:           key,
		transport:     transport,
		nonces:        make(map[string]struct{}),
		lastActivity:  now,
	}

	st.mu.Lock()
	prev := st.sessions[deviceID]
	st.sessions[deviceID] = sess
	st.mu.Unlock()

	if prev != nil && prev.transport != transport {
		prev.transport.Close()
	}

	return sess
}

// Get returns the live session for deviceID
func (st *Store) Get(deviceID models.SerialID) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[deviceID]
	return sess, ok
}

// Destroy removes the session for deviceID and closes its transport
func (st *Store) Destroy(deviceID models.SerialID) {
	st.mu.Lock()
	sess, ok := st.sessions[deviceID]
	delete(st.sessions, deviceID)
	st.mu.Unlock()

	if ok {
		sess.transport.Close()
	}
}

// Release closes sess and removes it if it is still the registered session
// for its device. A newer session for the same device is left alone.
func (st *Store) Release(sess *Session) {
	st.mu.Lock()
	if st.sessions[sess.DeviceID] == sess {
		delete(st.sessions, sess.DeviceID)
	}
	st.mu.Unlock()

	sess.transport.Close()
}

// Touch records an accepted inbound sequence number and nonce
func (st *Store) Touch(sess *Session, seq uint64, nonce string) error {
	return sess.touch(seq, nonce, st.now())
}

// Count returns the number of live sessions
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep destroys sessions with no accepted frame for longer than idle and
// returns how many were removed
func (st *Store) Sweep(idle time.Duration) int {
	cutoff := st.now().Add(-idle)

	st.mu.Lock()
	var stale []*Session
	for id, sess := range st.sessions {
		if sess.LastActivity().Before(cutoff) {
			stale = append(stale, sess)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, sess := range stale {
		sess.transport.Close()
	}
	return len(stale)
}

// CloseAll destroys every session
func (st *Store) CloseAll() int {
	st.mu.Lock()
	all := st.sessions
	st.sessions = make(map[models.SerialID]*Session)
	st.mu.Unlock()

	for _, sess := range all {
		sess.transport.Close()
	}
	return len(all)
}
