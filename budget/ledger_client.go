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

package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LedgerBalance is the result of a check() or balance() call.
type LedgerBalance struct {
	HasSufficient bool
	Balance       int
}

// LedgerConsumeResult is the result of a consume() call.
type LedgerConsumeResult struct {
	NewBalance int
	TxnID      string
}

// LedgerClient talks to the backend's internal credits API over HTTPS with
// a shared-secret header (§6 "Outbound HTTP"), in the same hand-rolled
// net/http style as the dispatch/providers adapters (the teacher has no
// dedicated ledger service, so this follows its general
// "vendor API over plain net/http" texture).
type LedgerClient struct {
	backendURL   string
	sharedSecret string
	client       *http.Client
}

// NewLedgerClient builds a client against backendURL (e.g.
// "https://backend.internal"), authenticating with the X-Internal-API-Key
// header on every call.
func NewLedgerClient(backendURL, sharedSecret string) *LedgerClient {
	return &LedgerClient{
		backendURL:   backendURL,
		sharedSecret: sharedSecret,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *LedgerClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ledger: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.backendURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", c.sharedSecret)
	return req, nil
}

// Check asks the ledger whether officeID has at least `required` credits, at
// POST /api/v1/internal/credits/check. On transport failure it fails open
// per §4.8: execution is permitted, and the transport error is returned
// alongside a permissive result so the caller can log it without blocking
// the task.
func (c *LedgerClient) Check(ctx context.Context, officeID string, required int) (LedgerBalance, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/internal/credits/check", map[string]any{
		"office_id":        officeID,
		"required_credits": required,
	})
	if err != nil {
		return LedgerBalance{HasSufficient: true}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return LedgerBalance{HasSufficient: true}, fmt.Errorf("ledger: check request failed (failing open): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return LedgerBalance{HasSufficient: true}, fmt.Errorf("ledger: check returned %d (failing open): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		HasSufficient  bool `json:"has_sufficient"`
		CurrentBalance int  `json:"current_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return LedgerBalance{HasSufficient: true}, fmt.Errorf("ledger: decode check response (failing open): %w", err)
	}
	return LedgerBalance{HasSufficient: parsed.HasSufficient, Balance: parsed.CurrentBalance}, nil
}

// Consume deducts credits for a completed task, at
// POST /api/v1/internal/credits/consume. Failure is fail-noisy per §4.8:
// the error is returned to the caller for logging, but the generation that
// already happened is never undone and consume is never silently retried.
func (c *LedgerClient) Consume(ctx context.Context, officeID, taskID string, credits int, description string) (LedgerConsumeResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/internal/credits/consume", map[string]any{
		"office_id":   officeID,
		"task_id":     taskID,
		"credits":     credits,
		"description": description,
	})
	if err != nil {
		return LedgerConsumeResult{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return LedgerConsumeResult{}, fmt.Errorf("ledger: consume request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return LedgerConsumeResult{}, fmt.Errorf("ledger: consume returned %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		NewBalance    int    `json:"new_balance"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return LedgerConsumeResult{}, fmt.Errorf("ledger: decode consume response: %w", err)
	}
	return LedgerConsumeResult{NewBalance: parsed.NewBalance, TxnID: parsed.TransactionID}, nil
}

// Balance returns officeID's current credit balance, at
// GET /api/v1/internal/credits/balance/{office_id}.
func (c *LedgerClient) Balance(ctx context.Context, officeID string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/internal/credits/balance/"+officeID, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("ledger: balance returned %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		CurrentBalance int `json:"current_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("ledger: decode balance response: %w", err)
	}
	return parsed.CurrentBalance, nil
}
