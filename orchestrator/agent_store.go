// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"sync"

	"github.com/denys89/agentorchestrator/dispatch"
)

// AgentStore resolves an agent_id into the dispatch.AgentContext a
// generation request needs, and lists every known template for GET /agents.
// Adapted from the teacher's agents map[string]*AgentDef core, dropping its
// file+DB-hybrid registry, node-enforcement gating, and regex routing
// rules — none of which this orchestrator's single-tenant agent catalog
// needs.
type AgentStore interface {
	Get(agentID string) (dispatch.AgentContext, bool)
	List() []AgentTemplate
	AppendHistory(agentID string, msg dispatch.HistoryMessage)
}

// InMemoryAgentStore is the default AgentStore: a fixed set of agent
// definitions registered at startup, with per-agent conversation history
// appended as requests complete.
type InMemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]dispatch.AgentContext
}

// NewInMemoryAgentStore builds a store seeded with defs, keyed by AgentID.
func NewInMemoryAgentStore(defs ...dispatch.AgentContext) *InMemoryAgentStore {
	s := &InMemoryAgentStore{agents: make(map[string]dispatch.AgentContext, len(defs))}
	for _, d := range defs {
		s.agents[d.AgentID] = d
	}
	return s
}

func (s *InMemoryAgentStore) Get(agentID string) (dispatch.AgentContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	return a, ok
}

func (s *InMemoryAgentStore) List() []AgentTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentTemplate, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, AgentTemplate{AgentID: a.AgentID, DisplayName: a.DisplayName, RoleName: a.RoleName})
	}
	return out
}

// AppendHistory records one turn for agentID, capping at 10 retained turns
// since Dispatcher.BuildMessages only ever looks at the most recent 10
// anyway.
func (s *InMemoryAgentStore) AppendHistory(agentID string, msg dispatch.HistoryMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return
	}
	a.History = append(a.History, msg)
	if len(a.History) > 10 {
		a.History = a.History[len(a.History)-10:]
	}
	s.agents[agentID] = a
}

// defaultAgentTemplates seeds the store with a general-purpose assistant and
// a coding-focused agent, standing in for the collaborator-owned template
// catalog (§6: "collaborator details").
func defaultAgentTemplates() []dispatch.AgentContext {
	return []dispatch.AgentContext{
		{
			AgentID:      "assistant",
			DisplayName:  "Assistant",
			RoleName:     "general-purpose assistant",
			SystemPrompt: "You are a helpful, general-purpose assistant.",
		},
		{
			AgentID:      "coder",
			DisplayName:  "Coder",
			RoleName:     "coding",
			SystemPrompt: "You are an expert software engineer. Prefer precise, runnable code.",
		},
	}
}
