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
	"context"

	"github.com/denys89/agentorchestrator/toolexec"
)

// sandboxingInvoker implements toolexec.ToolInvoker by routing
// tool.Vendor=="sandbox" steps to the code sandbox and everything else to
// the connector-backed invoker, since the two paths have no shared shape
// (ExecuteSafely vs Invoke) despite both ultimately carrying out a Step.
type sandboxingInvoker struct {
	connectors *toolexec.ConnectorInvoker
	sandbox    *toolexec.Sandbox
}

func (inv *sandboxingInvoker) Invoke(ctx context.Context, tool toolexec.ToolDescriptor, inputs map[string]any) (map[string]any, error) {
	if tool.Vendor != "sandbox" {
		return inv.connectors.Invoke(ctx, tool, inputs)
	}

	code, _ := inputs["code"].(string)
	limits := toolexec.DefaultResourceLimits
	if tool.Timeout > 0 {
		limits.Timeout = tool.Timeout
	}
	result := inv.sandbox.ExecuteSafely(ctx, code, inputs, limits)
	if !result.Success {
		return nil, &toolexec.ToolError{Code: toolexec.ErrCodeSandboxError, Message: result.Error}
	}
	return map[string]any{
		"output":            result.Output,
		"stdout":            result.Stdout,
		"stderr":            result.Stderr,
		"execution_time_ms": result.ExecutionTimeMS,
	}, nil
}
