// Package permission decides whether tool calls proceed: auto-approved sets,
// the sensitive-command classifier, YOLO mode, and interactive confirmation.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/event"
)

// Option is a choice offered to the user on a confirmation request.
type Option string

const (
	ApproveOnce     Option = "approve-once"
	ApproveAlways   Option = "approve-always"
	Reject          Option = "reject"
	RejectWithReply Option = "reject-with-reply"
)

// DecisionKind is the outcome of a permission check.
type DecisionKind string

const (
	DecisionAllow           DecisionKind = "allow"
	DecisionReject          DecisionKind = "reject"
	DecisionRejectWithReply DecisionKind = "reject-with-reply"
)

// Decision is the authoritative result of a check. Always is set when the
// user chose approve-always.
type Decision struct {
	Kind   DecisionKind
	Reply  string
	Always bool
}

// Request describes a tool call awaiting confirmation.
type Request struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	Tool         string          `json:"tool"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	BatchedTools []string        `json:"batchedTools,omitempty"`
	Sensitive    *RuleMatch      `json:"sensitive,omitempty"`
	// Repeated marks a call flagged by the doom-loop detector.
	Repeated bool     `json:"repeated,omitempty"`
	Options  []Option `json:"options"`
}

// Confirmer is the UI-provided callback that resolves confirmation requests.
// Implementations must surface context cancellation as an error.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (Decision, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, req Request) (Decision, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Call is the information the gate needs about one tool call.
type Call struct {
	Tool      string
	Arguments json.RawMessage
	// Command is the shell command string for terminal-execute calls; the
	// sensitive classifier applies only to it.
	Command      string
	BatchedTools []string
}

// Gate implements the permission decision table.
type Gate struct {
	mu        sync.RWMutex
	confirmer Confirmer
	rules     *RuleSet
	project   *ProjectPermissions
	loops     *DoomLoopDetector

	// session auto-approvals: sessionID -> tool name -> approved
	session map[string]map[string]bool
	yolo    map[string]bool
}

// NewGate creates a gate. project may be nil for sub-agent scopes, which
// neither share nor persist approvals.
func NewGate(confirmer Confirmer, rules *RuleSet, project *ProjectPermissions) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Gate{
		confirmer: confirmer,
		rules:     rules,
		project:   project,
		loops:     NewDoomLoopDetector(),
		session:   make(map[string]map[string]bool),
		yolo:      make(map[string]bool),
	}
}

// Fork creates a gate sharing this gate's confirmer and rules but with fresh
// approval scopes and no project persistence. Sub-agent runs use forks so
// their approvals neither reuse nor outlive the invocation.
func (g *Gate) Fork() *Gate {
	g.mu.RLock()
	confirmer := g.confirmer
	rules := g.rules
	g.mu.RUnlock()
	return NewGate(confirmer, rules, nil)
}

// SetConfirmer replaces the confirmation callback.
func (g *Gate) SetConfirmer(c Confirmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmer = c
}

// SetYOLO toggles YOLO mode for a session.
func (g *Gate) SetYOLO(sessionID string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yolo[sessionID] = on
}

// YOLO reports whether YOLO mode is on for a session.
func (g *Gate) YOLO(sessionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.yolo[sessionID]
}

// ApproveAlways adds a tool to the session set and the persisted project set.
func (g *Gate) ApproveAlways(ctx context.Context, sessionID, tool string) {
	g.mu.Lock()
	if g.session[sessionID] == nil {
		g.session[sessionID] = make(map[string]bool)
	}
	g.session[sessionID][tool] = true
	project := g.project
	g.mu.Unlock()

	if project != nil {
		project.Add(ctx, tool)
	}
}

// approved reports whether the tool is in the session or project set.
func (g *Gate) approved(sessionID, tool string) bool {
	g.mu.RLock()
	if g.session[sessionID][tool] {
		g.mu.RUnlock()
		return true
	}
	project := g.project
	g.mu.RUnlock()

	return project != nil && project.Contains(tool)
}

// ClearSession drops the session's in-memory approvals, YOLO flag, and
// doom-loop history.
func (g *Gate) ClearSession(sessionID string) {
	g.mu.Lock()
	delete(g.session, sessionID)
	delete(g.yolo, sessionID)
	g.mu.Unlock()
	g.loops.ClearSession(sessionID)
}

// Classify exposes the sensitive classifier for shell commands.
func (g *Gate) Classify(command string) *RuleMatch {
	return g.rules.Classify(command)
}

// Check applies the decision table to one tool call. It blocks on the
// confirmer when interactive confirmation is required; cancellation of ctx
// propagates as the returned error.
func (g *Gate) Check(ctx context.Context, sessionID string, call Call) (Decision, error) {
	var match *RuleMatch
	if call.Command != "" {
		match = g.rules.Classify(call.Command)
	}

	// Every call feeds the doom-loop detector, auto-approved ones included:
	// a loop on an approved call is exactly the case the guard exists for.
	repeated := g.loops.Observe(sessionID, call)

	// A sensitive command or a flagged repeat is never auto-approved,
	// regardless of set membership or YOLO mode.
	if match == nil && !repeated {
		if g.approved(sessionID, call.Tool) {
			return Decision{Kind: DecisionAllow}, nil
		}
		if g.YOLO(sessionID) {
			return Decision{Kind: DecisionAllow}, nil
		}
	}

	options := []Option{ApproveOnce, ApproveAlways, Reject, RejectWithReply}
	if match != nil || repeated {
		// approve-always is hidden: a standing grant would defeat the guard.
		options = []Option{ApproveOnce, Reject, RejectWithReply}
	}

	g.mu.RLock()
	confirmer := g.confirmer
	g.mu.RUnlock()

	req := Request{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		Tool:         call.Tool,
		Arguments:    call.Arguments,
		BatchedTools: call.BatchedTools,
		Sensitive:    match,
		Repeated:     repeated,
		Options:      options,
	}

	publishRequired(req)

	if confirmer == nil {
		publishResolved(req.ID, false)
		return Decision{Kind: DecisionReject}, nil
	}

	decision, err := confirmer.Confirm(ctx, req)
	if err != nil {
		publishResolved(req.ID, false)
		return Decision{}, fmt.Errorf("confirmation: %w", err)
	}

	if decision.Kind == DecisionAllow && decision.Always && match == nil && !repeated {
		g.ApproveAlways(ctx, sessionID, call.Tool)
	}

	publishResolved(req.ID, decision.Kind == DecisionAllow)
	return decision, nil
}

func publishRequired(req Request) {
	opts := make([]string, len(req.Options))
	for i, o := range req.Options {
		opts[i] = string(o)
	}
	data := event.PermissionRequiredData{
		ID:           req.ID,
		SessionID:    req.SessionID,
		Tool:         req.Tool,
		Arguments:    string(req.Arguments),
		BatchedTools: req.BatchedTools,
		Repeated:     req.Repeated,
		Options:      opts,
	}
	if req.Sensitive != nil {
		data.Sensitive = true
		data.SensitiveDoc = req.Sensitive.Description
	}
	event.Publish(event.Event{Type: event.PermissionRequired, Data: data})
}

func publishResolved(id string, granted bool) {
	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: id, Granted: granted},
	})
}
