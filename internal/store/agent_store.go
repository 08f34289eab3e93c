package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/model"
)

// AgentStore keeps agent presets in memory and mirrors them to agents.json.
// The file is small, so it is always read and written whole.
type AgentStore struct {
	mu      sync.RWMutex
	baseDir string
	agents  []model.Agent
	logger  zerolog.Logger
}

// NewAgentStore creates an empty agent store rooted at baseDir.
func NewAgentStore(baseDir string, logger zerolog.Logger) *AgentStore {
	return &AgentStore{
		baseDir: baseDir,
		agents:  []model.Agent{},
		logger:  logger.With().Str("component", "agent_store").Logger(),
	}
}

// RefreshFromStorage replaces the in-memory agents with agents.json. On a
// corrupt file the in-memory set becomes empty and ErrCorruptAgents is
// returned for logging.
func (s *AgentStore) RefreshFromStorage() error {
	agents, err := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.agents = []model.Agent{}
		return err
	}
	s.agents = agents
	s.logger.Debug().Int("count", len(agents)).Msg("agents reloaded")
	return nil
}

// Agents returns every agent in file order.
func (s *AgentStore) Agents() []model.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAgents(s.agents)
}

// SidebarAgents returns the agents marked as sidebar shortcuts.
func (s *AgentStore) SidebarAgents() []model.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Agent{}
	for _, a := range s.agents {
		if a.ShownInSidebar {
			out = append(out, cloneAgent(a))
		}
	}
	return out
}

// GetAgent looks an agent up by id. Absence is not an error.
func (s *AgentStore) GetAgent(id string) (model.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.ID == id {
			return cloneAgent(a), true
		}
	}
	return model.Agent{}, false
}

// SaveAgent inserts or replaces an agent and persists the full set. An agent
// without an id gets a new one. The stored agent is returned.
func (s *AgentStore) SaveAgent(agent model.Agent) (model.Agent, error) {
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return model.Agent{}, fmt.Errorf("agent name cannot be empty")
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneAgents(s.agents)
	replaced := false
	for i := range next {
		if next[i].ID == agent.ID {
			next[i] = cloneAgent(agent)
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, cloneAgent(agent))
	}

	if err := s.write(next); err != nil {
		return model.Agent{}, err
	}
	s.agents = next
	return cloneAgent(agent), nil
}

// DeleteAgent removes an agent. Deleting an unknown id is a no-op.
func (s *AgentStore) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.ID != id {
			next = append(next, a)
		}
	}
	if len(next) == len(s.agents) {
		return nil
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.agents = next
	return nil
}

func (s *AgentStore) read() ([]model.Agent, error) {
	data, err := os.ReadFile(resolve(s.baseDir, AgentsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Agent{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(data) == 0 {
		return []model.Agent{}, nil
	}

	var agents []model.Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAgents, err)
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	return agents, nil
}

func (s *AgentStore) write(agents []model.Agent) error {
	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agents: %w", err)
	}
	if err := WriteFileAtomic(resolve(s.baseDir, AgentsFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to save agents: %w", err)
	}
	return nil
}

func cloneAgent(a model.Agent) model.Agent {
	if a.Model != nil {
		m := *a.Model
		a.Model = &m
	}
	return a
}

func cloneAgents(agents []model.Agent) []model.Agent {
	out := make([]model.Agent, len(agents))
	for i, a := range agents {
		out[i] = cloneAgent(a)
	}
	return out
}
