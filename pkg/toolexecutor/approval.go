package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/contoso/sofia/internal/observability"
)

// ApprovalRequest represents a request for tool execution approval
type ApprovalRequest struct {
	ID         string                 `json:"id"`
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Category   Category               `json:"category"`
	SessionKey string                 `json:"session_key,omitempty"`
	Timeout    time.Duration          `json:"timeout,omitempty"`
}

// ApprovalResponse represents the response to an approval request
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
	Remember bool   `json:"remember,omitempty"`
}

// ApprovalHandler handles approval requests
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// ApprovalManager manages the approval workflow. Tools remembered
// through the allowlist skip the handler on later requests.
type ApprovalManager struct {
	handler        ApprovalHandler
	allowlist      *AllowlistManager
	defaultTimeout time.Duration
}

// NewApprovalManager creates a new approval manager
func NewApprovalManager(handler ApprovalHandler) *ApprovalManager {
	return &ApprovalManager{
		handler:        handler,
		defaultTimeout: 60 * time.Second,
	}
}

// SetAllowlist attaches an allowlist for remembered approvals.
func (am *ApprovalManager) SetAllowlist(allowlist *AllowlistManager) {
	am.allowlist = allowlist
}

// RequestApproval requests approval for a tool execution.
// Returns true if approved, false if denied. A timeout counts as a
// denial.
func (am *ApprovalManager) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	if am.handler == nil {
		return false, fmt.Errorf("no approval handler configured")
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if am.allowlist != nil && am.allowlist.IsAllowed(req.ToolName) {
		log.Debug().
			Str("tool", req.ToolName).
			Msg("Approval granted from allowlist")
		observability.RecordApprovalDecision("remembered")
		observability.RecordApprovalAudit(ctx, req.ToolName, req.SessionKey, "remembered", nil)
		return true, nil
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = am.defaultTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().
		Str("tool", req.ToolName).
		Str("category", string(req.Category)).
		Str("session", req.SessionKey).
		Msg("Requesting approval")

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := am.handler.RequestApproval(timeoutCtx, req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		decision := "denied"
		if response.Approved {
			decision = "approved"
			log.Info().
				Str("tool", req.ToolName).
				Str("reason", response.Reason).
				Msg("Approval granted")
		} else {
			log.Warn().
				Str("tool", req.ToolName).
				Str("reason", response.Reason).
				Msg("Approval denied")
		}

		observability.RecordApprovalDecision(decision)
		observability.RecordApprovalAudit(ctx, req.ToolName, req.SessionKey, decision, map[string]interface{}{
			"reason": response.Reason,
		})

		if response.Approved && response.Remember {
			am.remember(req, response.Reason)
		}

		return response.Approved, nil

	case err := <-errorChan:
		log.Error().
			Err(err).
			Str("tool", req.ToolName).
			Msg("Approval request failed")
		observability.RecordApprovalDecision("error")
		return false, fmt.Errorf("approval request failed: %w", err)

	case <-timeoutCtx.Done():
		log.Warn().
			Str("tool", req.ToolName).
			Dur("timeout", timeout).
			Msg("Approval request timed out")
		observability.RecordApprovalDecision("timeout")
		observability.RecordApprovalAudit(ctx, req.ToolName, req.SessionKey, "timeout", nil)
		return false, fmt.Errorf("approval request timed out after %v", timeout)
	}
}

// remember persists an approved tool to the allowlist.
func (am *ApprovalManager) remember(req ApprovalRequest, reason string) {
	if am.allowlist == nil {
		return
	}

	if err := am.allowlist.Add(AllowlistEntry{
		Tool:    req.ToolName,
		Reason:  reason,
		AddedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("tool", req.ToolName).Msg("Failed to remember approval")
		return
	}

	if err := am.allowlist.Save(); err != nil {
		log.Warn().Err(err).Str("tool", req.ToolName).Msg("Failed to save allowlist")
	}
}

// SetDefaultTimeout sets the default timeout for approval requests
func (am *ApprovalManager) SetDefaultTimeout(timeout time.Duration) {
	am.defaultTimeout = timeout
}

// GetDefaultTimeout returns the default timeout
func (am *ApprovalManager) GetDefaultTimeout() time.Duration {
	return am.defaultTimeout
}

// SetHandler sets the approval handler
func (am *ApprovalManager) SetHandler(handler ApprovalHandler) {
	am.handler = handler
}

// MockApprovalHandler is a mock handler for testing
type MockApprovalHandler struct {
	AutoApprove bool
	Response    ApprovalResponse
	Delay       time.Duration
	Error       error
	Requests    []ApprovalRequest
}

// RequestApproval implements ApprovalHandler
func (m *MockApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	m.Requests = append(m.Requests, req)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ApprovalResponse{}, ctx.Err()
		}
	}

	if m.Error != nil {
		return ApprovalResponse{}, m.Error
	}

	if m.AutoApprove {
		return ApprovalResponse{
			Approved: true,
			Reason:   "auto-approved",
		}, nil
	}

	return m.Response, nil
}
