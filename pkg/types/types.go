package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is a single entity as exchanged with the remote API: a decoded
// JSON object. The core never interprets entity fields beyond what the
// identity extractors need, so the UI can add fields freely.
type Record map[string]any

// Scope identifies one renderable collection: an entity kind, optionally
// narrowed to a parent (e.g. risks assigned to activity 12).
type Scope struct {
	Kind     string
	ParentID string
}

// CacheKey returns the entity-cache key for this scope.
func (s Scope) CacheKey() string {
	if s.ParentID == "" {
		return s.Kind
	}
	return fmt.Sprintf("activity:%s:%s", s.ParentID, s.Kind)
}

func (s Scope) String() string { return s.CacheKey() }

// IdentityKind selects how records of a scope are keyed for
// de-duplication between cached/live data and pending mutations.
type IdentityKind int

const (
	// IdentityNumericID keys by the server-assigned "id" field.
	IdentityNumericID IdentityKind = iota

	// IdentityEmail keys person-like records by lower-cased trimmed
	// email, so offline-created people match once the server assigns
	// a real id.
	IdentityEmail

	// IdentityComposite keys assignment bridges by (parent, child) id
	// pair.
	IdentityComposite
)

// ScopeDef describes one entity scope: how to fetch it, and how to
// extract record identity.
type ScopeDef struct {
	Kind     string
	Identity IdentityKind

	// ParentField/ChildField are set for IdentityComposite scopes.
	ParentField string
	ChildField  string

	// Path is the remote GET path for the global collection.
	// ScopedPath, when set, is a printf pattern taking the parent id.
	Path       string
	ScopedPath string
}

// IdentityOf extracts the de-duplication key for rec, dispatching on the
// scope's identity kind. ok is false when the record carries no usable
// identity (e.g. an offline-created record before any id was assigned).
func (d *ScopeDef) IdentityOf(rec Record) (string, bool) {
	switch d.Identity {
	case IdentityEmail:
		email, _ := rec["email"].(string)
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return "", false
		}
		return "email:" + email, true

	case IdentityComposite:
		parent, pok := FieldID(rec, d.ParentField)
		child, cok := FieldID(rec, d.ChildField)
		if !pok || !cok {
			return "", false
		}
		return "pair:" + parent + ":" + child, true

	default:
		id, ok := FieldID(rec, "id")
		if !ok {
			return "", false
		}
		return "id:" + id, true
	}
}

// FieldID reads an id-like field and normalizes it to a string. JSON
// numbers arrive as float64; server ids are integral in practice.
// Local temporary ids (the "local-" namespace) pass through unchanged.
func FieldID(rec Record, field string) (string, bool) {
	switch v := rec[field].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// IsLocalID reports whether id belongs to the locally-assigned temporary
// id namespace. Server ids are numeric and can never collide with it.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "local-")
}

// Scopes lists every collection the UI can render; the resolver and the
// remote client are generic over these entries.
var Scopes = map[string]*ScopeDef{
	"projects":   {Kind: "projects", Identity: IdentityNumericID, Path: "/projects"},
	"activities": {Kind: "activities", Identity: IdentityNumericID, Path: "/activities"},
	"objectives": {Kind: "objectives", Identity: IdentityNumericID, Path: "/objectives"},
	"risks":      {Kind: "risks", Identity: IdentityNumericID, Path: "/risks", ScopedPath: "/activities/%s/risks"},
	"hazards":    {Kind: "hazards", Identity: IdentityNumericID, Path: "/hazards", ScopedPath: "/activities/%s/hazards"},
	"checklists": {Kind: "checklists", Identity: IdentityNumericID, Path: "/checklists", ScopedPath: "/activities/%s/checklists"},
	"predators":  {Kind: "predators", Identity: IdentityNumericID, Path: "/predators", ScopedPath: "/activities/%s/predators"},
	"staff":      {Kind: "staff", Identity: IdentityEmail, Path: "/staff"},
	"volunteers": {Kind: "volunteers", Identity: IdentityEmail, Path: "/volunteers", ScopedPath: "/activities/%s/volunteers"},

	"activity-risks": {
		Kind: "activity-risks", Identity: IdentityComposite,
		ParentField: "activityId", ChildField: "riskId",
		Path: "/activityrisks", ScopedPath: "/activities/%s/activityrisks",
	},
	"activity-hazards": {
		Kind: "activity-hazards", Identity: IdentityComposite,
		ParentField: "activityId", ChildField: "hazardId",
		Path: "/activityhazards", ScopedPath: "/activities/%s/activityhazards",
	},
	"activity-checklists": {
		Kind: "activity-checklists", Identity: IdentityComposite,
		ParentField: "activityId", ChildField: "checklistId",
		Path: "/activitychecklists", ScopedPath: "/activities/%s/activitychecklists",
	},
}

// LookupScope returns the scope definition for kind.
func LookupScope(kind string) (*ScopeDef, error) {
	def, ok := Scopes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown scope: %s", kind)
	}
	return def, nil
}

// KindDef describes one mutation kind: which scope its records belong
// to, and how to submit it to the remote API.
type KindDef struct {
	Kind   string
	Scope  string
	Method string

	// Endpoint is the remote path. A "{parent}" segment is substituted
	// with the payload's parent id for scoped kinds.
	Endpoint string

	// ParentField names the payload field holding the parent id for
	// scoped kinds.
	ParentField string
}

// Kinds maps every queueable mutation kind to its definition. Deletes
// are intentionally absent: removals are not queueable offline.
var Kinds = map[string]*KindDef{
	"project.create":   {Kind: "project.create", Scope: "projects", Method: "POST", Endpoint: "/projects"},
	"activity.create":  {Kind: "activity.create", Scope: "activities", Method: "POST", Endpoint: "/activities"},
	"objective.create": {Kind: "objective.create", Scope: "objectives", Method: "POST", Endpoint: "/objectives"},
	"risk.create":      {Kind: "risk.create", Scope: "risks", Method: "POST", Endpoint: "/risks"},
	"hazard.create":    {Kind: "hazard.create", Scope: "hazards", Method: "POST", Endpoint: "/hazards"},
	"staff.create":     {Kind: "staff.create", Scope: "staff", Method: "POST", Endpoint: "/staff"},
	"volunteer.create": {Kind: "volunteer.create", Scope: "volunteers", Method: "POST", Endpoint: "/volunteers"},
	"predator.create": {
		Kind: "predator.create", Scope: "predators", Method: "POST",
		Endpoint: "/activities/{parent}/predators", ParentField: "activityId",
	},
	"activity.risk.assign": {
		Kind: "activity.risk.assign", Scope: "activity-risks", Method: "POST",
		Endpoint: "/activities/{parent}/activityrisks", ParentField: "activityId",
	},
	"activity.hazard.assign": {
		Kind: "activity.hazard.assign", Scope: "activity-hazards", Method: "POST",
		Endpoint: "/activities/{parent}/activityhazards", ParentField: "activityId",
	},
	"activity.checklist.assign": {
		Kind: "activity.checklist.assign", Scope: "activity-checklists", Method: "POST",
		Endpoint: "/activities/{parent}/activitychecklists", ParentField: "activityId",
	},
}

// LookupKind returns the mutation kind definition.
func LookupKind(kind string) (*KindDef, error) {
	def, ok := Kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown mutation kind: %s", kind)
	}
	return def, nil
}

// ScopeOf computes the scope a queued payload of this kind targets.
func (k *KindDef) ScopeOf(payload Record) Scope {
	s := Scope{Kind: k.Scope}
	if k.ParentField != "" {
		if id, ok := FieldID(payload, k.ParentField); ok {
			s.ParentID = id
		}
	}
	return s
}

// PendingMutation is one user action captured while offline or after a
// failed live write. Owned by the mutation store; only the replay
// engine flips Synced and relocates the record.
type PendingMutation struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Payload   Record    `json:"payload"`
	Synced    bool      `json:"synced"`
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SyncedMutation is the terminal, write-once copy of a PendingMutation
// after successful replay, kept for audit. It keeps the pending id.
type SyncedMutation struct {
	PendingMutation
	SyncedAt time.Time `json:"syncedAt"`
}

// DeadMutation is a quarantined mutation: the server definitively
// rejected it, or it exhausted its retry budget.
type DeadMutation struct {
	PendingMutation
	Reason string    `json:"reason"`
	DeadAt time.Time `json:"deadAt"`
}
