// Attestation API handlers: the HTTP surface over the attestation
// coordinator (§4.5, §4.6, §6). Authentication and credential-to-agent
// resolution are glue, out of scope of the coordinator's contract; this
// package resolves the caller's agent from a request header and leaves
// real authentication to a reverse proxy or future middleware.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attestproof/attestd/pkg/attestation"
	"github.com/attestproof/attestd/pkg/database"
)

// AttestationHandlers serves the issue and verify endpoints.
type AttestationHandlers struct {
	coordinator *attestation.Coordinator
	repos       *database.Repositories
	metrics     *Metrics
	logger      *log.Logger
}

// NewAttestationHandlers creates new attestation handlers.
func NewAttestationHandlers(coordinator *attestation.Coordinator, repos *database.Repositories, metrics *Metrics, logger *log.Logger) *AttestationHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[AttestationAPI] ", log.LstdFlags)
	}
	return &AttestationHandlers{coordinator: coordinator, repos: repos, metrics: metrics, logger: logger}
}

// issueRequestBody is the POST /issue JSON body.
type issueRequestBody struct {
	RuleID     string                 `json:"rule_id"`
	ActionData map[string]interface{} `json:"action_data"`
}

// issueResponseBody is the POST /issue JSON response (201 Created).
type issueResponseBody struct {
	ProofID    string      `json:"proof_id"`
	ProofHash  string      `json:"proof_hash"`
	RuleMet    bool        `json:"rule_met"`
	Evaluation interface{} `json:"evaluation"`
	Summary    string      `json:"summary"`
	Cost       float64     `json:"cost"`
	OnChain    bool        `json:"on_chain"`
	VerifyURL  string      `json:"verify_url"`
	CreatedAt  string      `json:"created_at"`
}

// HandleIssue handles POST /issue: evaluate a rule against an action
// record and, if all preconditions hold, issue a signed attestation.
func (h *AttestationHandlers) HandleIssue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	agentID, err := uuid.Parse(r.Header.Get("X-Agent-ID"))
	if err != nil {
		writeJSONError(w, "missing or invalid X-Agent-ID credential", http.StatusUnauthorized)
		return
	}

	var body issueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ruleID, err := uuid.Parse(body.RuleID)
	if err != nil {
		writeJSONError(w, "invalid rule_id", http.StatusBadRequest)
		return
	}
	if body.ActionData == nil {
		writeJSONError(w, "action_data is required", http.StatusBadRequest)
		return
	}

	agent, err := h.repos.Agents.GetAgent(r.Context(), agentID)
	if err != nil {
		if err == database.ErrAgentNotFound {
			writeJSONError(w, "unknown agent credential", http.StatusUnauthorized)
			return
		}
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to resolve agent %s: %v", agentID, err), http.StatusInternalServerError)
		return
	}
	if agent.State != database.AgentStateActive {
		writeJSONError(w, "agent is not active", http.StatusForbidden)
		return
	}
	principal, err := h.repos.Principals.GetPrincipal(r.Context(), agent.PrincipalID)
	if err != nil {
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to resolve principal %s: %v", agent.PrincipalID, err), http.StatusInternalServerError)
		return
	}

	result, err := h.coordinator.IssueAttestation(r.Context(), &attestation.IssueRequest{
		AgentID:       agentID,
		PrincipalID:   agent.PrincipalID,
		PrincipalTier: principal.Tier,
		RuleID:        ruleID,
		ActionRecord:  body.ActionData,
		PeerAddress:   r.RemoteAddr,
	})
	if err != nil {
		h.writeIssueError(w, err, start)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveIssuance("ok", start)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(issueResponseBody{
		ProofID:    result.AttestationID.String(),
		ProofHash:  result.Digest,
		RuleMet:    result.Met,
		Evaluation: result.Evaluation,
		Summary:    result.Summary,
		Cost:       result.UnitCost,
		OnChain:    false,
		VerifyURL:  result.VerificationRef,
		CreatedAt:  result.IssuedAt.Format(rfc3339),
	})
}

// writeIssueError maps the coordinator's error taxonomy (§7) to an HTTP
// status and code, never leaking internal error text. Digest/sequence
// conflicts at commit are a 5xx (§7): a caller cannot resolve them by
// changing its request, only by retrying against a fresh state.
func (h *AttestationHandlers) writeIssueError(w http.ResponseWriter, err error, start time.Time) {
	code := "internal"
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case err == attestation.ErrRateLimited:
		code, status, message = "rate_limited", http.StatusTooManyRequests, "rate limited"
	case err == attestation.ErrQuotaExceeded:
		code, status, message = "quota_exceeded", http.StatusForbidden, "monthly issuance quota exceeded"
	case err == attestation.ErrRuleNotFound:
		code, status, message = "rule_not_found", http.StatusNotFound, "rule not found"
	case err == attestation.ErrOwnershipMismatch:
		code, status, message = "ownership_mismatch", http.StatusForbidden, "rule is not owned by this agent"
	case err == attestation.ErrRuleArchived:
		code, status, message = "rule_archived", http.StatusConflict, "rule is archived"
	case errors.Is(err, database.ErrDigestCollision) || errors.Is(err, database.ErrSequenceConflict):
		code, status, message = "conflict", http.StatusServiceUnavailable, "conflict, retry the request"
	case strings.Contains(err.Error(), attestation.ErrRuleCorrupt.Error()):
		h.logger.Printf("rule corrupt: %v", err)
		fallthrough
	default:
		if h.metrics != nil {
			h.metrics.ObserveIssuance(code, start)
		}
		writeJSONInternalError(w, h.logger, fmt.Sprintf("issue attestation failed: %v", err), status)
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveIssuance(code, start)
	}
	writeJSONErrorCode(w, message, code, status)
}

// verifyResponseBody is the GET /verify/{id} JSON response. It never
// includes the encrypted or plaintext signature (§4.6).
type verifyResponseBody struct {
	AttestationID string      `json:"attestation_id"`
	Digest        string      `json:"digest"`
	Met           bool        `json:"met"`
	Evaluation    interface{} `json:"evaluation"`
	Summary       string      `json:"summary"`
	LedgerTxRef   *string     `json:"ledger_tx_ref,omitempty"`
	IssuedAt      string      `json:"issued_at"`
}

// HandleVerify handles GET /verify/{id}: the public verification endpoint.
func (h *AttestationHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/verify/")
	if id == "" || id == r.URL.Path {
		writeJSONError(w, "attestation id required", http.StatusBadRequest)
		return
	}
	attestationID, err := uuid.Parse(id)
	if err != nil {
		writeJSONError(w, "invalid attestation id", http.StatusBadRequest)
		return
	}

	a, err := h.coordinator.GetPublicAttestation(r.Context(), attestationID)
	if err != nil {
		if err == attestation.ErrAttestationNotFound {
			writeJSONError(w, "attestation not found", http.StatusNotFound)
			return
		}
		writeJSONInternalError(w, h.logger, fmt.Sprintf("verify lookup failed: %v", err), http.StatusInternalServerError)
		return
	}

	var evaluation interface{}
	if err := json.Unmarshal(a.EvaluationJSON, &evaluation); err != nil {
		h.logger.Printf("stored evaluation for %s is malformed: %v", attestationID, err)
	}

	json.NewEncoder(w).Encode(verifyResponseBody{
		AttestationID: a.AttestationID.String(),
		Digest:        a.Digest,
		Met:           a.Met,
		Evaluation:    evaluation,
		Summary:       a.Summary,
		LedgerTxRef:   a.LedgerTxRef,
		IssuedAt:      a.IssuedAt.Format(rfc3339),
	})
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
