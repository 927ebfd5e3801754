package appstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/rs/zerolog"
)

// ProcrastinationThreshold is the postpone count at which a quest raises an alert
const ProcrastinationThreshold = 3

var (
	ErrEmptyText    = errors.New("text is required")
	ErrItemNotFound = errors.New("item not found")
)

// CapturedItem is an inbox entry or a quest
type CapturedItem struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	PostponedCount int    `json:"postponedCount"`
}

// Snapshot is a point-in-time copy of the application state
type Snapshot struct {
	Inbox                []CapturedItem `json:"inbox"`
	Quests               []CapturedItem `json:"quests"`
	Completed            []CapturedItem `json:"completed"`
	Values               []string       `json:"values"`
	ActiveHub            persona.ID     `json:"activeHub,omitempty"`
	SanctuaryMode        bool           `json:"sanctuaryMode"`
	HuddleActive         bool           `json:"huddleActive"`
	JoySparks            int            `json:"joySparks"`
	ProcrastinationAlert *CapturedItem  `json:"procrastinationAlert,omitempty"`
	FocusQuestID         string         `json:"focusQuestId,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Inbox = append([]CapturedItem(nil), s.Inbox...)
	out.Quests = append([]CapturedItem(nil), s.Quests...)
	out.Completed = append([]CapturedItem(nil), s.Completed...)
	out.Values = append([]string(nil), s.Values...)
	if s.ProcrastinationAlert != nil {
		alert := *s.ProcrastinationAlert
		out.ProcrastinationAlert = &alert
	}
	return out
}

// Repository persists snapshots between runs
type Repository interface {
	LoadState(ctx context.Context) (Snapshot, bool, error)
	SaveState(ctx context.Context, snap Snapshot) error
}

// Store holds the application state shared by voice tools, dictation and the HTTP surface
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	repo        Repository
	saveTimeout time.Duration
	logger      zerolog.Logger
}

// NewStore creates an empty store. repo may be nil for an in-memory store.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:        repo,
		saveTimeout: 5 * time.Second,
		logger:      observability.GetLogger().With().Str("component", "appstate").Logger(),
	}
}

// Load replaces the in-memory state with the persisted snapshot, if any
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	snap, ok, err := s.repo.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load app state: %w", err)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.state = snap.clone()
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// update applies fn under the write lock and persists the result
func (s *Store) update(fn func(st *Snapshot) error) error {
	s.mu.Lock()
	if err := fn(&s.state); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.state.clone()
	s.mu.Unlock()

	s.persist(snap)
	return nil
}

func (s *Store) persist(snap Snapshot) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	if err := s.repo.SaveState(ctx, snap); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist app state")
	}
}

func newItem(text string) (CapturedItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CapturedItem{}, ErrEmptyText
	}
	return CapturedItem{ID: uuid.New().String(), Text: text}, nil
}

// Capture adds an item to the inbox
func (s *Store) Capture(text string) (CapturedItem, error) {
	item, err := newItem(text)
	if err != nil {
		return CapturedItem{}, err
	}
	err = s.update(func(st *Snapshot) error {
		st.Inbox = append(st.Inbox, item)
		return nil
	})
	return item, err
}

// AddQuest adds a quest directly to the quest log
func (s *Store) AddQuest(text string) (CapturedItem, error) {
	item, err := newItem(text)
	if err != nil {
		return CapturedItem{}, err
	}
	err = s.update(func(st *Snapshot) error {
		st.Quests = append(st.Quests, item)
		return nil
	})
	return item, err
}

// PromoteToQuest moves an inbox item to the quest log
func (s *Store) PromoteToQuest(id string) error {
	return s.update(func(st *Snapshot) error {
		i := indexOf(st.Inbox, id)
		if i < 0 {
			return fmt.Errorf("inbox %s: %w", id, ErrItemNotFound)
		}
		st.Quests = append(st.Quests, st.Inbox[i])
		st.Inbox = append(st.Inbox[:i:i], st.Inbox[i+1:]...)
		return nil
	})
}

// DeleteInboxItem removes an inbox item
func (s *Store) DeleteInboxItem(id string) error {
	return s.update(func(st *Snapshot) error {
		i := indexOf(st.Inbox, id)
		if i < 0 {
			return fmt.Errorf("inbox %s: %w", id, ErrItemNotFound)
		}
		st.Inbox = append(st.Inbox[:i:i], st.Inbox[i+1:]...)
		return nil
	})
}

// Postpone bumps a quest's postpone count. Reaching the threshold raises the
// procrastination alert unless it already points at the same quest.
func (s *Store) Postpone(id string) (CapturedItem, error) {
	var postponed CapturedItem
	err := s.update(func(st *Snapshot) error {
		i := indexOf(st.Quests, id)
		if i < 0 {
			return fmt.Errorf("quest %s: %w", id, ErrItemNotFound)
		}
		st.Quests[i].PostponedCount++
		postponed = st.Quests[i]

		if postponed.PostponedCount >= ProcrastinationThreshold {
			if st.ProcrastinationAlert == nil || st.ProcrastinationAlert.ID != postponed.ID {
				alert := postponed
				st.ProcrastinationAlert = &alert
			}
		}
		return nil
	})
	return postponed, err
}

// DismissAlert clears the procrastination alert
func (s *Store) DismissAlert() {
	_ = s.update(func(st *Snapshot) error {
		st.ProcrastinationAlert = nil
		return nil
	})
}

// Complete moves a quest to the front of the completed list
func (s *Store) Complete(id string) error {
	return s.update(func(st *Snapshot) error {
		i := indexOf(st.Quests, id)
		if i < 0 {
			return fmt.Errorf("quest %s: %w", id, ErrItemNotFound)
		}
		item := st.Quests[i]
		st.Completed = append([]CapturedItem{item}, st.Completed...)
		st.Quests = append(st.Quests[:i:i], st.Quests[i+1:]...)
		if st.FocusQuestID == id {
			st.FocusQuestID = ""
		}
		if st.ProcrastinationAlert != nil && st.ProcrastinationAlert.ID == id {
			st.ProcrastinationAlert = nil
		}
		return nil
	})
}

// SetValues replaces the user's ranked core values
func (s *Store) SetValues(values []string) {
	_ = s.update(func(st *Snapshot) error {
		st.Values = append([]string(nil), values...)
		return nil
	})
}

// OpenHub makes a character hub the active view
func (s *Store) OpenHub(id persona.ID) {
	_ = s.update(func(st *Snapshot) error {
		st.ActiveHub = id
		return nil
	})
}

// CloseHub returns to the lounge
func (s *Store) CloseHub() {
	_ = s.update(func(st *Snapshot) error {
		st.ActiveHub = ""
		return nil
	})
}

// SparkJoy records a celebration and returns the running total
func (s *Store) SparkJoy() int {
	var n int
	_ = s.update(func(st *Snapshot) error {
		st.JoySparks++
		n = st.JoySparks
		return nil
	})
	return n
}

// ToggleSanctuary flips sanctuary mode and returns the new value
func (s *Store) ToggleSanctuary() bool {
	var on bool
	_ = s.update(func(st *Snapshot) error {
		st.SanctuaryMode = !st.SanctuaryMode
		on = st.SanctuaryMode
		return nil
	})
	return on
}

// StartHuddle opens the team huddle
func (s *Store) StartHuddle() {
	_ = s.update(func(st *Snapshot) error {
		st.HuddleActive = true
		return nil
	})
}

// EndHuddle closes the team huddle
func (s *Store) EndHuddle() {
	_ = s.update(func(st *Snapshot) error {
		st.HuddleActive = false
		return nil
	})
}

// SetFocus records the quest chosen for focus mode. An empty id clears it.
func (s *Store) SetFocus(id string) error {
	return s.update(func(st *Snapshot) error {
		if id != "" && indexOf(st.Quests, id) < 0 {
			return fmt.Errorf("quest %s: %w", id, ErrItemNotFound)
		}
		st.FocusQuestID = id
		return nil
	})
}

// ChooseFocus resolves a suggested quest id against the quest log.
// When the suggestion does not match, the first quest is used. With no quests
// there is nothing to focus on.
func ChooseFocus(quests []CapturedItem, suggested string) (CapturedItem, bool) {
	if len(quests) == 0 {
		return CapturedItem{}, false
	}
	if i := indexOf(quests, suggested); i >= 0 {
		return quests[i], true
	}
	return quests[0], true
}

func indexOf(items []CapturedItem, id string) int {
	if id == "" {
		return -1
	}
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
