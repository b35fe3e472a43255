// Package session tracks query sessions from open to release.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/metrics"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownSession = errors.New("unknown session")
	ErrNoFaceInROI    = errors.New("no face found in the region of interest")
	ErrNotReady       = errors.New("operation invoked out of order")
)

// State is the lifecycle position of a session.
type State int

const (
	StateOpen State = iota
	StateTrainingStarted
	StateTrained
	StateRanked
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateTrainingStarted:
		return "TRAINING_STARTED"
	case StateTrained:
		return "TRAINED"
	case StateRanked:
		return "RANKED"
	case StateReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is one caller's query. Its fields are guarded by mu; the Store only
// guards the id map.
type Session struct {
	ID      uint64
	Dataset string

	mu          sync.Mutex
	state       State
	images      []TrainingImage
	fingerprint fingerprint.Fingerprint
	ranking     []ranking.Entry
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Images returns a copy of the training images.
func (s *Session) Images() []TrainingImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrainingImage, len(s.images))
	copy(out, s.images)
	return out
}

func (s *Session) accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// appendImage stores img unless training started since the caller checked.
func (s *Session) appendImage(img TrainingImage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	s.images = append(s.images, img)
	return true
}

// closeGate moves an open session to TRAINING_STARTED and returns a snapshot of its images.
func (s *Session) closeGate() ([]TrainingImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return nil, ErrUnknownSession
	}
	if s.state == StateOpen {
		s.state = StateTrainingStarted
	}
	out := make([]TrainingImage, len(s.images))
	copy(out, s.images)
	return out, nil
}

func (s *Session) finishTraining(fp fingerprint.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return ErrUnknownSession
	}
	s.fingerprint = fp
	s.ranking = nil
	s.state = StateTrained
	return nil
}

func (s *Session) trainedFingerprint() (fingerprint.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateTrained, StateRanked:
		return s.fingerprint, nil
	case StateReleased:
		return nil, ErrUnknownSession
	}
	return nil, fmt.Errorf("%w: session %d is %s, rank needs TRAINED", ErrNotReady, s.ID, s.state)
}

func (s *Session) storeRanking(entries []ranking.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return ErrUnknownSession
	}
	s.ranking = entries
	s.state = StateRanked
	return nil
}

func (s *Session) rankedEntries() ([]ranking.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRanked {
		return nil, fmt.Errorf("%w: session %d is %s, no ranking yet", ErrNotReady, s.ID, s.state)
	}
	return s.ranking, nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReleased
	s.images = nil
	s.fingerprint = nil
	s.ranking = nil
}

// Store owns the session map and the id counter.
type Store struct {
	mu       sync.Mutex
	lastID   uint64
	sessions map[uint64]*Session
}

// NewStore creates an empty store. The first id handed out is 1.
func NewStore() *Store {
	return &Store{sessions: make(map[uint64]*Session)}
}

// Open allocates the next id and registers a session in OPEN state.
func (st *Store) Open(dataset string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastID++
	s := &Session{ID: st.lastID, Dataset: dataset, state: StateOpen}
	st.sessions[s.ID] = s
	metrics.ActiveSessions.Inc()
	return s
}

// Get returns the session with id.
func (st *Store) Get(id uint64) (*Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return s, nil
}

// Delete removes the session and marks it released.
func (st *Store) Delete(id uint64) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	metrics.ActiveSessions.Dec()
	s.release()
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
