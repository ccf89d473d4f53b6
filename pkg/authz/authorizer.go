package authz

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/cedar-policy/cedar-go"
)

//go:embed policies.cedar
var policiesContent []byte

// Config contains options for the Authorizer.
type Config struct {
	// Logger for structured decision logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// PolicyBytes allows loading policies from a custom source (for testing).
	// If nil, embedded policies.cedar is used.
	PolicyBytes []byte
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Authorizer wraps the Cedar policy engine.
// All authorization decisions in the system flow through this single component.
type Authorizer struct {
	policies *cedar.PolicySet
	names    map[cedar.PolicyID]string // @id annotations
	logger   *slog.Logger
}

// NewAuthorizer creates an authorizer with the given configuration.
func NewAuthorizer(cfg Config) (*Authorizer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policyData := cfg.PolicyBytes
	if policyData == nil {
		policyData = policiesContent
	}

	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}

	names := make(map[cedar.PolicyID]string)
	for id, p := range ps.All() {
		if name, ok := p.Annotations()["id"]; ok {
			names[id] = string(name)
		}
	}

	return &Authorizer{
		policies: ps,
		names:    names,
		logger:   logger,
	}, nil
}

// Authorize evaluates an authorization request against Cedar policies.
// Unknown actions are denied without evaluation.
func (a *Authorizer) Authorize(ctx context.Context, req AuthzRequest) AuthzDecision {
	start := time.Now()

	if !ValidateAction(req.Action) {
		result := AuthzDecision{
			Reason:   fmt.Sprintf("unknown action %q", req.Action),
			Duration: time.Since(start),
		}
		a.logDecision(ctx, req, result, cedar.Diagnostic{})
		return result
	}

	entities := buildEntities(req.Principal, req.Resource)
	decision, diagnostic := cedar.Authorize(a.policies, entities, buildCedarRequest(req))

	policyID := ""
	if len(diagnostic.Reasons) > 0 {
		policyID = a.policyName(diagnostic.Reasons[0].PolicyID)
	}

	allowed := decision == cedar.Allow
	result := AuthzDecision{
		Allowed:  allowed,
		Reason:   a.reason(allowed, policyID),
		PolicyID: policyID,
		Duration: time.Since(start),
	}

	a.logDecision(ctx, req, result, diagnostic)
	return result
}

func (a *Authorizer) policyName(id cedar.PolicyID) string {
	if name, ok := a.names[id]; ok {
		return name
	}
	return string(id)
}

func (a *Authorizer) reason(allowed bool, policyID string) string {
	switch {
	case allowed:
		return "access permitted"
	case policyID != "":
		// A deny with a reason means a forbid policy matched.
		return fmt.Sprintf("denied by policy %s", policyID)
	default:
		return "access denied - no matching permit policy"
	}
}

// logDecision logs the authorization decision with structured fields.
func (a *Authorizer) logDecision(ctx context.Context, req AuthzRequest, result AuthzDecision, diag cedar.Diagnostic) {
	a.logger.DebugContext(ctx, "authorization decision",
		"request_id", RequestIDFromContext(ctx),
		"principal", req.Principal.UID,
		"principal_type", req.Principal.Type,
		"super", req.Principal.Super,
		"action", req.Action,
		"resource", req.Resource.UID,
		"resource_type", req.Resource.Type,
		"resource_library", req.Resource.LibraryID,
		"decision", result.Allowed,
		"reason", result.Reason,
		"policy_id", result.PolicyID,
		"duration_us", result.Duration.Microseconds(),
	)

	for _, err := range diag.Errors {
		a.logger.Error("policy evaluation error",
			"policy", a.policyName(err.PolicyID),
			"error", err.Message,
		)
	}
}

// PolicyCount returns the number of loaded policies.
func (a *Authorizer) PolicyCount() int {
	count := 0
	for range a.policies.All() {
		count++
	}
	return count
}
