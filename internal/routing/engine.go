package routing

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownNumber means no workspace owns the dialed number.
	ErrUnknownNumber = errors.New("routing: unknown number")
	ErrNoCustomer    = errors.New("routing: no customer for phone")
	ErrNoDestination = errors.New("routing: no eligible destination")
)

// NumberEntry is a provisioned phone number and where inbound calls go.
type NumberEntry struct {
	Number      string `json:"number"`
	WorkspaceID string `json:"workspace_id"`
	Enabled     bool   `json:"enabled"`

	Destinations []WeightedDestination `json:"destinations"`
}

type WeightedDestination struct {
	// TargetURI is a provider-agnostic dial target, either an E.164 number
	// or a sip: URI.
	TargetURI string `json:"target_uri"`

	// Weight must be > 0.
	Weight int `json:"weight"`
}

// Directory resolves numbers and callers. Implementations must scope
// customer lookups by workspace.
type Directory interface {
	LookupNumber(ctx context.Context, number string) (NumberEntry, error)
	LookupCustomer(ctx context.Context, workspaceID, phone string) (customerID string, err error)
}

// InboundCall is the routing input taken from a voice webhook.
type InboundCall struct {
	To   string
	From string
}

// Engine decides what happens to an inbound call. It has no side effects:
// no session writes, no provider calls.
type Engine struct {
	dir Directory

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEngine(dir Directory, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{dir: dir, rng: rng}
}

// WorkspaceForNumber returns the workspace owning number.
func (e *Engine) WorkspaceForNumber(ctx context.Context, number string) (string, error) {
	n, err := e.dir.LookupNumber(ctx, NormalizePhone(number))
	if err != nil {
		return "", err
	}
	return n.WorkspaceID, nil
}

// DestinationFor picks a bridge target for an outbound call placed from one
// of the workspace's numbers.
func (e *Engine) DestinationFor(ctx context.Context, workspaceID, number string) (string, error) {
	n, err := e.dir.LookupNumber(ctx, NormalizePhone(number))
	if err != nil {
		return "", err
	}
	if n.WorkspaceID != workspaceID || !n.Enabled {
		return "", ErrUnknownNumber
	}
	dest, ok := e.pickDestination(n.Destinations)
	if !ok {
		return "", ErrNoDestination
	}
	return dest, nil
}

// RouteInboundCall resolves the owning workspace and the caller, then picks a
// destination.
//
// Priority:
//  1. Unknown number is an error (ErrUnknownNumber).
//  2. Disabled number is rejected.
//  3. Weighted destination selection; no eligible destination hangs up.
func (e *Engine) RouteInboundCall(ctx context.Context, call InboundCall) (Decision, error) {
	if e.dir == nil {
		return Decision{}, errors.New("routing: directory not configured")
	}
	to := NormalizePhone(call.To)
	if to == "" {
		return Decision{}, ErrUnknownNumber
	}
	n, err := e.dir.LookupNumber(ctx, to)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{WorkspaceID: n.WorkspaceID}
	if from := NormalizePhone(call.From); from != "" {
		id, err := e.dir.LookupCustomer(ctx, n.WorkspaceID, from)
		switch {
		case err == nil:
			d.CustomerID = &id
		case !errors.Is(err, ErrNoCustomer):
			return Decision{}, err
		}
	}

	if !n.Enabled {
		d.Action, d.Reason = ActionReject, "number_disabled"
		return d, nil
	}
	if dest, ok := e.pickDestination(n.Destinations); ok {
		d.Action, d.ConnectTo, d.Reason = ActionConnect, dest, "selected"
		return d, nil
	}
	d.Action, d.Reason = ActionHangup, "no_eligible_destination"
	return d, nil
}

func (e *Engine) pickDestination(dests []WeightedDestination) (string, bool) {
	var total int
	for _, d := range dests {
		if d.Weight <= 0 || strings.TrimSpace(d.TargetURI) == "" {
			continue
		}
		total += d.Weight
	}
	if total <= 0 {
		return "", false
	}

	e.mu.Lock()
	r := e.rng.Intn(total) // 0..total-1
	e.mu.Unlock()

	var acc int
	for _, d := range dests {
		if d.Weight <= 0 || strings.TrimSpace(d.TargetURI) == "" {
			continue
		}
		acc += d.Weight
		if r < acc {
			return d.TargetURI, true
		}
	}
	return "", false
}

// NormalizePhone trims whitespace and drops formatting characters, keeping a
// leading +. Non-numeric values such as "anonymous" come back empty.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
