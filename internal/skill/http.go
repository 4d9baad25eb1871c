package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
)

const maxResponseBytes = 10 << 20

// HTTPSkill delegates execution to an external HTTP service
type HTTPSkill struct {
	meta     Metadata
	endpoint string
	method   string
	required []string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPSkill creates a delegated skill from its definition
func NewHTTPSkill(def config.SkillDefinition, client *http.Client) *HTTPSkill {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodPost
	}
	category := def.Category
	if category == "" {
		category = "general"
	}
	return &HTTPSkill{
		meta: Metadata{
			Name:        def.Name,
			Description: def.Description,
			Category:    category,
			Tags:        def.Tags,
			Version:     "1",
		},
		endpoint: def.Endpoint,
		method:   method,
		required: def.Required,
		timeout:  def.Timeout,
		client:   client,
	}
}

// Metadata returns the skill's discovery information
func (s *HTTPSkill) Metadata() Metadata {
	return s.meta
}

// Validate requires params to be a JSON object holding every required key
func (s *HTTPSkill) Validate(params json.RawMessage) ValidationResult {
	var input map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &input); err != nil {
			return ValidationResult{
				Errors: []FieldError{{Field: "params", Tag: "object", Message: "params must be a JSON object"}},
			}
		}
	}
	if input == nil {
		input = map[string]any{}
	}
	return ValidateRequired(input, s.required)
}

type delegatedRequest struct {
	Input   json.RawMessage  `json:"input"`
	Context delegatedContext `json:"context"`
}

type delegatedContext struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

type delegatedResponse struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// Execute performs one delegated call
func (s *HTTPSkill) Execute(ctx context.Context, params json.RawMessage, ec ExecContext) (any, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	body, err := json.Marshal(delegatedRequest{
		Input: params,
		Context: delegatedContext{
			TenantID:  ec.TenantID,
			UserID:    ec.UserID,
			SessionID: ec.SessionID,
		},
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeExecution, false, err, "failed to marshal request")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, s.method, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.CodeExecution, false, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", ec.TenantID)
	httpReq.Header.Set("X-User-ID", ec.UserID)
	if ec.SessionID != "" {
		httpReq.Header.Set("X-Session-ID", ec.SessionID)
	}

	if ec.Progress != nil {
		ec.Progress(10, "request dispatched")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.WrapError(domain.CodeTimeout, true, err, "%s request timed out", s.meta.Name)
		}
		return nil, domain.WrapError(domain.CodeExecution, true, err, "%s request failed", s.meta.Name)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.WrapError(domain.CodeExecution, true, err, "failed to read %s response", s.meta.Name)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.NewError(domain.CodeExecution,
			fmt.Sprintf("%s returned status %d", s.meta.Name, resp.StatusCode), true)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.NewError(domain.CodeExecution,
			fmt.Sprintf("%s returned status %d", s.meta.Name, resp.StatusCode), false).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(payload), 512)})
	}

	if ec.Progress != nil {
		ec.Progress(90, "response received")
	}

	return decodeDelegated(s.meta.Name, payload)
}

func decodeDelegated(name string, payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}

	var envelope delegatedResponse
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Success != nil {
		if !*envelope.Success {
			if envelope.Error != nil {
				return nil, domain.NewError(domain.CodeExecution, envelope.Error.Message, envelope.Error.Retryable).
					WithDetails(map[string]any{"upstream_code": envelope.Error.Code})
			}
			return nil, domain.NewError(domain.CodeExecution, fmt.Sprintf("%s reported failure", name), false)
		}
		payload = envelope.Data
		if len(payload) == 0 {
			return nil, nil
		}
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, domain.WrapError(domain.CodeExecution, false, err, "failed to decode %s response", name)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RegisterDefinitions registers one delegated skill per definition.
// Disabled definitions are registered and then disabled.
func RegisterDefinitions(r *Registry, defs []config.SkillDefinition, client *http.Client) error {
	for _, def := range defs {
		if err := r.Register(NewHTTPSkill(def, client)); err != nil {
			return err
		}
		if def.Disabled {
			if err := r.Disable(def.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
