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

package toolexec

import (
	"fmt"
	"sync"
)

// ToolRegistry holds tool descriptors in an in-memory map keyed by unique
// name, following the teacher's connectors/registry.Registry
// sync.RWMutex-guarded map idiom (§4.12).
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDescriptor
}

// NewToolRegistry builds an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDescriptor)}
}

// Register adds a new tool, rejecting duplicates.
func (r *ToolRegistry) Register(tool ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("toolexec: tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Update replaces an existing tool's descriptor; the tool must already
// exist.
func (r *ToolRegistry) Update(tool ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		return fmt.Errorf("toolexec: tool %q does not exist", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Unregister removes a tool; unregistering a nonexistent tool is a no-op.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns the descriptor for name.
func (r *ToolRegistry) Lookup(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Exists reports whether name is registered.
func (r *ToolRegistry) Exists(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// RequiredPermissions returns the scopes name requires, or nil if name is
// unknown.
func (r *ToolRegistry) RequiredPermissions(name string) []string {
	t, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return t.RequiredPermissions
}

// ToolFilter narrows List to a category/vendor/availability subset; a zero
// value field means "don't filter on this".
type ToolFilter struct {
	Category      string
	Vendor        string
	AvailableOnly bool
}

// List returns all tools matching filter, in no particular order.
func (r *ToolRegistry) List(filter ToolFilter) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if filter.Vendor != "" && t.Vendor != filter.Vendor {
			continue
		}
		if filter.AvailableOnly && !t.Available {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ValidateInputs implements the JSON-schema subset of §4.12: presence of
// required fields, and a primitive type check against properties[*].type.
// Unknown declared types pass validation.
func (r *ToolRegistry) ValidateInputs(name string, inputs map[string]any) error {
	tool, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("toolexec: unknown tool %q", name)
	}

	for _, field := range tool.InputSchema.Required {
		if _, present := inputs[field]; !present {
			return fmt.Errorf("toolexec: missing required field %q for tool %q", field, name)
		}
	}

	for field, value := range inputs {
		prop, declared := tool.InputSchema.Properties[field]
		if !declared {
			continue
		}
		if err := checkPrimitiveType(field, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

// checkPrimitiveType validates value against a JSON-schema primitive type
// name; unrecognized type names are treated as permissive (§4.12).
func checkPrimitiveType(field, schemaType string, value any) error {
	switch schemaType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("toolexec: field %q must be a string", field)
		}
	case "integer":
		switch value.(type) {
		case int, int32, int64, float64: // JSON numbers decode as float64
		default:
			return fmt.Errorf("toolexec: field %q must be an integer", field)
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("toolexec: field %q must be a number", field)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("toolexec: field %q must be a boolean", field)
		}
	case "array":
		switch value.(type) {
		case []any:
		default:
			return fmt.Errorf("toolexec: field %q must be an array", field)
		}
	case "object":
		switch value.(type) {
		case map[string]any:
		default:
			return fmt.Errorf("toolexec: field %q must be an object", field)
		}
	default:
		// Unknown declared type: pass validation per §4.12.
	}
	return nil
}
