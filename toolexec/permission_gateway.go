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
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PermissionVerdict is the result of a CheckPermissions call (§4.13, §7).
type PermissionVerdict string

const (
	VerdictGranted           PermissionVerdict = "GRANTED"
	VerdictInsufficientScope PermissionVerdict = "INSUFFICIENT_SCOPE"
	VerdictDenied            PermissionVerdict = "DENIED"
	VerdictTokenExpired      PermissionVerdict = "TOKEN_EXPIRED"
	VerdictTokenInvalid      PermissionVerdict = "TOKEN_INVALID"
)

// PermissionResult carries the verdict plus enough detail for a BLOCKED
// step result.
type PermissionResult struct {
	Verdict PermissionVerdict
	Missing []string
	Reason  string
}

func (r PermissionResult) Granted() bool { return r.Verdict == VerdictGranted }

// minOAuthTokenLength is the minimum acceptable length for a vendor OAuth
// token; anything shorter is treated as TOKEN_INVALID.
const minOAuthTokenLength = 8

// internalVendors never require an OAuth token (first-party/local tools).
var internalVendors = map[string]bool{
	"internal": true,
	"local":    true,
	"":         true,
}

// PermissionGateway is a zero-trust scope checker, adapted from the
// teacher's agent/policy.PermissionEvaluator. The teacher's permission
// strings are colon-delimited ("mcp:connector:operation"); this gateway
// instead matches the spec's dot-delimited tool scopes
// ("tool.category.operation") with a trailing ".*" wildcard, per §4.13.
type PermissionGateway struct{}

// NewPermissionGateway builds a gateway. It is stateless; all state lives
// on the ExecutionScope passed to each call.
func NewPermissionGateway() *PermissionGateway {
	return &PermissionGateway{}
}

// CheckPermissions implements §4.13's check_permissions(tool, scope).
func (g *PermissionGateway) CheckPermissions(tool ToolDescriptor, scope ExecutionScope) PermissionResult {
	if len(tool.RequiredPermissions) == 0 {
		return g.checkVendorToken(tool, scope)
	}

	missing := missingScopes(tool.RequiredPermissions, scope.Granted)
	if len(missing) > 0 {
		return PermissionResult{
			Verdict: VerdictInsufficientScope,
			Missing: missing,
			Reason:  fmt.Sprintf("missing required scopes: %s", strings.Join(missing, ", ")),
		}
	}

	return g.checkVendorToken(tool, scope)
}

// checkVendorToken enforces the OAuth presence/length/expiry checks for
// non-internal vendors.
func (g *PermissionGateway) checkVendorToken(tool ToolDescriptor, scope ExecutionScope) PermissionResult {
	if internalVendors[strings.ToLower(tool.Vendor)] {
		return PermissionResult{Verdict: VerdictGranted}
	}

	token, present := scope.OAuthTokens[tool.Vendor]
	if !present || token == "" {
		return PermissionResult{
			Verdict: VerdictDenied,
			Reason:  fmt.Sprintf("no OAuth token present for vendor %q", tool.Vendor),
		}
	}
	if len(token) < minOAuthTokenLength {
		return PermissionResult{
			Verdict: VerdictTokenInvalid,
			Reason:  fmt.Sprintf("OAuth token for vendor %q is below minimum length", tool.Vendor),
		}
	}

	expiry, ok := scope.TokenExpiry[tool.Vendor]
	if !ok {
		expiry, ok = jwtExpiry(token)
	}
	if ok && !expiry.IsZero() && time.Now().After(expiry) {
		return PermissionResult{
			Verdict: VerdictTokenExpired,
			Reason:  fmt.Sprintf("OAuth token for vendor %q expired at %s", tool.Vendor, expiry),
		}
	}

	return PermissionResult{Verdict: VerdictGranted}
}

// jwtExpiry extracts the "exp" claim from a vendor-issued bearer token when
// it is itself a JWT. Vendor signing keys aren't ours to verify against, so
// claims are read unverified; this only ever narrows the expiry window
// (scope.TokenExpiry still takes precedence when present).
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// missingScopes computes required - granted, where a granted entry ending
// in ".*" covers any required scope sharing its prefix.
func missingScopes(required, granted []string) []string {
	var missing []string
	for _, req := range required {
		if !scopeSatisfied(req, granted) {
			missing = append(missing, req)
		}
	}
	return missing
}

func scopeSatisfied(required string, granted []string) bool {
	for _, g := range granted {
		if g == required {
			return true
		}
		if strings.HasSuffix(g, ".*") {
			prefix := strings.TrimSuffix(g, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}
	return false
}

// ValidateExecutionContext enforces that scope is bound to exactly the
// given identities (§4.13), guarding against a token for one user/office
// being replayed under another's execution context.
func (g *PermissionGateway) ValidateExecutionContext(userID, officeID string, scope ExecutionScope) error {
	if scope.UserID != userID {
		return fmt.Errorf("toolexec: execution context user mismatch: scope bound to %q, request is %q", scope.UserID, userID)
	}
	if scope.OfficeID != officeID {
		return fmt.Errorf("toolexec: execution context office mismatch: scope bound to %q, request is %q", scope.OfficeID, officeID)
	}
	return nil
}
