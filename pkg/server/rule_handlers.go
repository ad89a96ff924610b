// Rule registration handlers: the HTTP surface over rule CRUD (§4.5's
// "rule exists"/"ownership"/"archived" preconditions all depend on rules
// actually being registered through this surface, or through an
// equivalent administrative path).
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/rule"
)

// RuleHandlers serves rule registration, update, and archival.
type RuleHandlers struct {
	repos  *database.Repositories
	logger *log.Logger
}

// NewRuleHandlers creates new rule handlers.
func NewRuleHandlers(repos *database.Repositories, logger *log.Logger) *RuleHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[RuleAPI] ", log.LstdFlags)
	}
	return &RuleHandlers{repos: repos, logger: logger}
}

// ruleRequestBody is the shared POST/PUT /rules JSON body.
type ruleRequestBody struct {
	Name       string           `json:"name"`
	Conditions []rule.Condition `json:"conditions"`
}

// ruleResponseBody is the rule JSON response shape.
type ruleResponseBody struct {
	RuleID     string           `json:"rule_id"`
	AgentID    string           `json:"agent_id"`
	Name       string           `json:"name"`
	Conditions []rule.Condition `json:"conditions"`
	Version    int              `json:"version"`
	State      string           `json:"state"`
	CreatedAt  string           `json:"created_at"`
}

// HandleRules handles POST /rules: register a new rule at version 1,
// owned by the calling agent.
func (h *RuleHandlers) HandleRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	agentID, err := uuid.Parse(r.Header.Get("X-Agent-ID"))
	if err != nil {
		writeJSONError(w, "missing or invalid X-Agent-ID credential", http.StatusUnauthorized)
		return
	}

	var body ruleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := rule.Validate(body.Conditions); err != nil {
		writeJSONErrorCode(w, err.Error(), "rule_invalid", http.StatusBadRequest)
		return
	}

	conditionsJSON, err := json.Marshal(body.Conditions)
	if err != nil {
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to marshal conditions: %v", err), http.StatusInternalServerError)
		return
	}

	created, err := h.repos.Rules.CreateRule(r.Context(), &database.NewRuleInput{
		AgentID:        agentID,
		Name:           body.Name,
		ConditionsJSON: conditionsJSON,
	})
	if err != nil {
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to create rule: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toRuleResponse(created, body.Conditions))
}

// HandleRule handles PUT and DELETE /rules/{id}: a versioned update or an
// archival of an existing rule. Both require the caller's X-Agent-ID to
// match the rule's owning agent (§4.5 ownership precondition).
func (h *RuleHandlers) HandleRule(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := strings.TrimPrefix(r.URL.Path, "/rules/")
	if id == "" || id == r.URL.Path {
		writeJSONError(w, "rule id required", http.StatusBadRequest)
		return
	}
	ruleID, err := uuid.Parse(id)
	if err != nil {
		writeJSONError(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	agentID, err := uuid.Parse(r.Header.Get("X-Agent-ID"))
	if err != nil {
		writeJSONError(w, "missing or invalid X-Agent-ID credential", http.StatusUnauthorized)
		return
	}

	existing, err := h.repos.Rules.GetRule(r.Context(), ruleID)
	if err != nil {
		if err == database.ErrRuleNotFound {
			writeJSONError(w, "rule not found", http.StatusNotFound)
			return
		}
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to fetch rule %s: %v", ruleID, err), http.StatusInternalServerError)
		return
	}
	if existing.AgentID != agentID {
		writeJSONError(w, "rule is not owned by this agent", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.handleUpdate(w, r, ruleID)
	case http.MethodDelete:
		h.handleArchive(w, r, ruleID)
	default:
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RuleHandlers) handleUpdate(w http.ResponseWriter, r *http.Request, ruleID uuid.UUID) {
	var body ruleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := rule.Validate(body.Conditions); err != nil {
		writeJSONErrorCode(w, err.Error(), "rule_invalid", http.StatusBadRequest)
		return
	}

	conditionsJSON, err := json.Marshal(body.Conditions)
	if err != nil {
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to marshal conditions: %v", err), http.StatusInternalServerError)
		return
	}

	updated, err := h.repos.Rules.UpdateRule(r.Context(), ruleID, body.Name, conditionsJSON)
	if err != nil {
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to update rule %s: %v", ruleID, err), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(toRuleResponse(updated, body.Conditions))
}

func (h *RuleHandlers) handleArchive(w http.ResponseWriter, r *http.Request, ruleID uuid.UUID) {
	if err := h.repos.Rules.ArchiveRule(r.Context(), ruleID); err != nil {
		if err == database.ErrRuleNotFound {
			writeJSONError(w, "rule not found", http.StatusNotFound)
			return
		}
		writeJSONInternalError(w, h.logger, fmt.Sprintf("failed to archive rule %s: %v", ruleID, err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toRuleResponse(r *database.Rule, conditions []rule.Condition) ruleResponseBody {
	return ruleResponseBody{
		RuleID:     r.RuleID.String(),
		AgentID:    r.AgentID.String(),
		Name:       r.Name,
		Conditions: conditions,
		Version:    r.Version,
		State:      string(r.State),
		CreatedAt:  r.CreatedAt.Format(rfc3339),
	}
}
