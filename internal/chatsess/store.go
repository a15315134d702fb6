// Package chatsess persists per-platform chat sessions: for each agent, a
// map from channel id to the runner session bound to that conversation.
// Connectors use it to keep one conversational context per channel.
package chatsess

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/herdctl/internal/state"
)

// DefaultExpiryHours is used when the store is created with expiry 0.
const DefaultExpiryHours = 24

// Session is one channel's binding to a runner session.
type Session struct {
	SessionID     string    `yaml:"session_id"`
	LastMessageAt time.Time `yaml:"last_message_at"`
}

// agentSessions is the persisted document: channelId -> session.
type agentSessions struct {
	Channels map[string]Session `yaml:"channels"`
}

// Store holds the sessions of one platform across all agents.
type Store struct {
	platform string
	dir      string
	expiry   time.Duration

	mu     sync.Mutex
	agents map[string]*agentSessions // qualified agent name -> doc

	now func() time.Time // test hook
}

// Open loads (or starts empty) the session store for a platform.
func Open(st *state.Store, platform string, expiryHours int) (*Store, error) {
	dir, err := st.PlatformSessionsDir(platform)
	if err != nil {
		return nil, err
	}
	if expiryHours <= 0 {
		expiryHours = DefaultExpiryHours
	}
	s := &Store{
		platform: platform,
		dir:      dir,
		expiry:   time.Duration(expiryHours) * time.Hour,
		agents:   make(map[string]*agentSessions),
		now:      time.Now,
	}
	s.loadAll()
	return s, nil
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var doc agentSessions
		if err := yaml.Unmarshal(data, &doc); err != nil || doc.Channels == nil {
			continue
		}
		agent := strings.TrimSuffix(e.Name(), ".yaml")
		s.agents[agent] = &doc
	}
}

// GetSession returns the live session for a channel, or "" when absent or
// expired. Expired entries are removed lazily.
func (s *Store) GetSession(agent, channelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.agents[agent]
	if !ok {
		return ""
	}
	sess, ok := doc.Channels[channelID]
	if !ok {
		return ""
	}
	if s.now().Sub(sess.LastMessageAt) > s.expiry {
		delete(doc.Channels, channelID)
		return ""
	}
	return sess.SessionID
}

// GetOrCreateSession returns the channel's live session id, minting a fresh
// one (prefix <platform>-<agent>-) when absent or expired, and bumps
// lastMessageAt. The document is persisted atomically before returning.
func (s *Store) GetOrCreateSession(agent, channelID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.agents[agent]
	if !ok {
		doc = &agentSessions{Channels: make(map[string]Session)}
		s.agents[agent] = doc
	}

	now := s.now()
	sess, ok := doc.Channels[channelID]
	if !ok || now.Sub(sess.LastMessageAt) > s.expiry {
		sess = Session{SessionID: fmt.Sprintf("%s-%s-%s", s.platform, agent, uuid.NewString())}
	}
	sess.LastMessageAt = now
	doc.Channels[channelID] = sess

	if err := s.save(agent, doc); err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// BindSession records an externally announced runner session for a channel
// (the runner's session_start wins over the locally minted id).
func (s *Store) BindSession(agent, channelID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.agents[agent]
	if !ok {
		doc = &agentSessions{Channels: make(map[string]Session)}
		s.agents[agent] = doc
	}
	doc.Channels[channelID] = Session{SessionID: sessionID, LastMessageAt: s.now()}
	return s.save(agent, doc)
}

// Touch bumps lastMessageAt for a live session. A missing session is a
// no-op.
func (s *Store) Touch(agent, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.agents[agent]
	if !ok {
		return nil
	}
	sess, ok := doc.Channels[channelID]
	if !ok {
		return nil
	}
	sess.LastMessageAt = s.now()
	doc.Channels[channelID] = sess
	return s.save(agent, doc)
}

func (s *Store) save(agent string, doc *agentSessions) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	name := strings.ReplaceAll(agent, string(filepath.Separator), "_")
	return state.AtomicWriteFile(filepath.Join(s.dir, name+".yaml"), data, 0o644)
}
