package service

import (
	"context"
	"sync"
	"time"

	"cobrarelay/internal/models"
)

// In-memory mapping store covering MappingStore, BroadcastStore and
// StaleCleaner. Error fields force failures per call site.
type mockStore struct {
	mu       sync.Mutex
	mappings map[string]*models.ChannelMapping

	getErr        error
	createErr     error
	refreshErr    error
	deactivateErr error

	refreshCalls    []refreshCall
	deactivatedIDs  []string
	createdMappings []*models.ChannelMapping
}

type refreshCall struct {
	id              string
	conversationRef string
	installedBy     string
	groupName       string
	activityAt      time.Time
}

func newMockStore() *mockStore {
	return &mockStore{mappings: make(map[string]*models.ChannelMapping)}
}

func (s *mockStore) add(m *models.ChannelMapping) *models.ChannelMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.ID] = m
	return m
}

func (s *mockStore) GetMapping(ctx context.Context, id string) (*models.ChannelMapping, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[id], nil
}

func (s *mockStore) GetActiveMappingByConversation(ctx context.Context, platform models.Platform, externalGroupID string) (*models.ChannelMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.IsActive && m.Platform == platform && m.ExternalGroupID == externalGroupID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *mockStore) CreateMapping(ctx context.Context, m *models.ChannelMapping) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = "parked-" + m.ExternalGroupID
	}
	s.mappings[m.ID] = m
	s.createdMappings = append(s.createdMappings, m)
	return nil
}

func (s *mockStore) RefreshMappingActivity(ctx context.Context, id, conversationRef, installedBy, groupName string, activityAt time.Time) error {
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls = append(s.refreshCalls, refreshCall{id, conversationRef, installedBy, groupName, activityAt})
	if m, ok := s.mappings[id]; ok {
		if conversationRef != "" {
			m.ConversationRef = conversationRef
		}
		if m.InstalledByName == "" {
			m.InstalledByName = installedBy
		}
		at := activityAt
		m.LastActivityAt = &at
	}
	return nil
}

func (s *mockStore) GetActiveMappingsByThread(ctx context.Context, chatThreadID string) ([]*models.ChannelMapping, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ChannelMapping
	for _, m := range s.mappings {
		if m.IsActive && m.ChatThreadID != nil && *m.ChatThreadID == chatThreadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *mockStore) GetActiveMappingsByEvent(ctx context.Context, eventID string) ([]*models.ChannelMapping, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ChannelMapping
	for _, m := range s.mappings {
		if m.IsActive && m.EventID != nil && *m.EventID == eventID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *mockStore) DeactivateMapping(ctx context.Context, id, actor string) error {
	if s.deactivateErr != nil {
		return s.deactivateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivatedIDs = append(s.deactivatedIDs, id)
	if m, ok := s.mappings[id]; ok {
		m.IsActive = false
	}
	return nil
}

func (s *mockStore) DeactivateStaleMappings(ctx context.Context, cutoff time.Time, actor string) (int64, error) {
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, m := range s.mappings {
		if m.IsActive && m.IsLinked() && m.LastActivityAt != nil && m.LastActivityAt.Before(cutoff) {
			m.IsActive = false
			count++
		}
	}
	return count, nil
}

// Message store recording inserts; duplicate detection by dedup key.
type mockMessageStore struct {
	mu        sync.Mutex
	insertErr error
	seen      map[string]bool
	inserted  []*models.ChatMessage
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{seen: make(map[string]bool)}
}

func (s *mockMessageStore) InsertExternalMessage(ctx context.Context, msg *models.ChatMessage) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := msg.ExternalMessageID + "|" + msg.ChatThreadID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.inserted = append(s.inserted, msg)
	return true, nil
}

// Notifier recording calls.
type mockNotifier struct {
	mu       sync.Mutex
	notified []*models.ChatMessage
}

func (n *mockNotifier) NotifyNewMessage(ctx context.Context, msg *models.ChatMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, msg)
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

// Adapter with scripted behavior. sendFn lets tests vary behavior per call.
type mockAdapter struct {
	mu        sync.Mutex
	sendID    string
	sendErr   error
	sendFn    func(mapping *models.ChannelMapping) (string, error)
	parseMsg  *models.InboundMessage
	parseErr  error
	sendCalls []string
	sendTexts []string

	groupName     string
	groupShareURL string
	describeErr   error
	describeCalls []string
}

func (a *mockAdapter) SendMessage(ctx context.Context, mapping *models.ChannelMapping, ref *models.ConversationReference, text string) (string, error) {
	a.mu.Lock()
	a.sendCalls = append(a.sendCalls, mapping.ID)
	a.sendTexts = append(a.sendTexts, text)
	fn := a.sendFn
	a.mu.Unlock()
	if fn != nil {
		return fn(mapping)
	}
	return a.sendID, a.sendErr
}

func (a *mockAdapter) ParseInbound(raw []byte) (*models.InboundMessage, error) {
	return a.parseMsg, a.parseErr
}

func (a *mockAdapter) DescribeGroup(ctx context.Context, externalGroupID string) (string, string, error) {
	a.mu.Lock()
	a.describeCalls = append(a.describeCalls, externalGroupID)
	a.mu.Unlock()
	return a.groupName, a.groupShareURL, a.describeErr
}

func (a *mockAdapter) sentTo() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sendCalls))
	copy(out, a.sendCalls)
	return out
}

func (a *mockAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sendTexts))
	copy(out, a.sendTexts)
	return out
}
