package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// InMemoryStore is a Store and DedupRepo kept in process memory. It is used
// by tests and by deployments that do not need persistence.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.UserProfile
	goals    map[string]map[string]models.Goal
	states   map[string]models.UserState
	sessions map[string]models.Session
	events   map[string][]models.Event
	dedup    map[string]DedupRecord
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]models.UserProfile),
		goals:    make(map[string]map[string]models.Goal),
		states:   make(map[string]models.UserState),
		sessions: make(map[string]models.Session),
		events:   make(map[string][]models.Event),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) EnsureUser(userID, name string, defaultHour int) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	p, ok := s.users[userID]
	if !ok {
		p = models.UserProfile{UserID: userID, Name: name, CheckinHour: defaultHour, CreatedAt: now, UpdatedAt: now}
		s.users[userID] = p
	}
	if _, ok := s.states[userID]; !ok {
		s.states[userID] = models.UserState{UserID: userID, UpdatedAt: now}
	}
	return &p, nil
}

func (s *InMemoryStore) GetUser(userID string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListUsers() ([]models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.UserProfile, 0, len(s.users))
	for _, p := range s.users {
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// mutateUser applies fn to the stored profile under the write lock.
func (s *InMemoryStore) mutateUser(userID string, fn func(p *models.UserProfile)) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok {
		return nil, models.NewNotFoundError("user", userID, "")
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	s.users[userID] = p
	return &p, nil
}

func (s *InMemoryStore) SetCheckinHour(userID string, hour int) error {
	_, err := s.mutateUser(userID, func(p *models.UserProfile) { p.CheckinHour = hour })
	return err
}

func (s *InMemoryStore) SetActiveGoal(userID, goal string) error {
	_, err := s.mutateUser(userID, func(p *models.UserProfile) { p.ActiveGoal = goal })
	return err
}

func (s *InMemoryStore) SetLastCheckinKey(userID, key string) error {
	_, err := s.mutateUser(userID, func(p *models.UserProfile) { p.LastCheckinKey = key })
	return err
}

func (s *InMemoryStore) SetLastInsightKey(userID, key string) error {
	_, err := s.mutateUser(userID, func(p *models.UserProfile) { p.LastInsightKey = key })
	return err
}

func (s *InMemoryStore) BumpStreak(userID string, delta int) (*models.UserProfile, error) {
	return s.mutateUser(userID, func(p *models.UserProfile) {
		p.Streak += delta
		p.MissedDays = 0
	})
}

func (s *InMemoryStore) BumpMissed(userID string, delta int) (*models.UserProfile, error) {
	return s.mutateUser(userID, func(p *models.UserProfile) { p.MissedDays += delta })
}

func (s *InMemoryStore) UpsertGoal(goal models.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.goals[goal.UserID]
	if !ok {
		byName = make(map[string]models.Goal)
		s.goals[goal.UserID] = byName
	}
	if prev, ok := byName[goal.Name]; ok {
		goal.CreatedAt = prev.CreatedAt
	}
	byName[goal.Name] = goal
	return nil
}

func (s *InMemoryStore) GetGoal(userID, name string) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[userID][name]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *InMemoryStore) FirstGoal(userID string) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first *models.Goal
	for _, g := range s.goals[userID] {
		g := g
		if first == nil || g.CreatedAt.Before(first.CreatedAt) ||
			(g.CreatedAt.Equal(first.CreatedAt) && g.Name < first.Name) {
			first = &g
		}
	}
	return first, nil
}

func (s *InMemoryStore) CountGoals(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.goals[userID]), nil
}

func (s *InMemoryStore) GetUserState(userID string) (*models.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *InMemoryStore) SaveUserState(state models.UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now().UTC()
	s.states[state.UserID] = state
	return nil
}

func (s *InMemoryStore) SaveSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if session.State == models.SessionActive {
		for id, other := range s.sessions {
			if id != session.ID && other.UserID == session.UserID && other.State == models.SessionActive {
				other.State = models.SessionAborted
				other.UpdatedAt = now
				s.sessions[id] = other
			}
		}
	}
	session.UpdatedAt = now
	s.sessions[session.ID] = session
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *InMemoryStore) ActiveSession(userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active *models.Session
	for _, sess := range s.sessions {
		sess := sess
		if sess.UserID == userID && sess.State == models.SessionActive {
			if active == nil || sess.StartedAt.After(active.StartedAt) {
				active = &sess
			}
		}
	}
	return active, nil
}

func (s *InMemoryStore) ListActiveSessions() ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.State == models.SessionActive {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) AppendEvent(event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Payload != nil {
		copied := make(map[string]string, len(event.Payload))
		for k, v := range event.Payload {
			copied[k] = v
		}
		event.Payload = copied
	}
	s.events[event.UserID] = append(s.events[event.UserID], event)
	return nil
}

// sortedEvents returns the user's events ordered by time, then insertion.
func (s *InMemoryStore) sortedEvents(userID string) []models.Event {
	events := append([]models.Event(nil), s.events[userID]...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events
}

func (s *InMemoryStore) ListEvents(userID string, since time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.sortedEvents(userID) {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecentEvents(userID string, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.sortedEvents(userID)
	var out []models.Event
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) IsProcessed(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dedup[messageID]
	return ok && rec.ProcessedAt != nil, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
