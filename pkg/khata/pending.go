package khata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultPendingTTL is the confirmation window applied when none is
// configured.
const DefaultPendingTTL = 10 * time.Minute

// Decision is the interpretation of a confirmation reply.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionYes
	DecisionNo
)

// Canonical affirmative and negative reply tokens, covering common
// English/Hindi/Hinglish spellings and emoji.
var (
	yesTokens = map[string]bool{
		"y": true, "yes": true, "haan": true, "haanji": true, "ha": true,
		"ok": true, "okay": true, "confirm": true, "✅": true, "👍": true,
	}
	noTokens = map[string]bool{
		"n": true, "no": true, "nahin": true, "nahi": true,
		"cancel": true, "❌": true, "👎": true,
	}
)

// ParseDecision maps a free-text reply onto the canonical token sets. A
// reply outside both sets is DecisionUnknown and leaves the action pending.
func ParseDecision(text string) Decision {
	token := strings.ToLower(strings.TrimSpace(text))
	switch {
	case yesTokens[token]:
		return DecisionYes
	case noTokens[token]:
		return DecisionNo
	}
	return DecisionUnknown
}

// ClaimOutcome is the result of trying to move a pending action to a
// terminal status.
type ClaimOutcome string

const (
	ClaimWon             ClaimOutcome = "claimed"
	ClaimExpired         ClaimOutcome = "expired"
	ClaimAlreadyResolved ClaimOutcome = "already_resolved"
)

// Pending is the confirmation state machine: pending -> one of
// {confirmed, cancelled, expired}, all terminal.
type Pending struct {
	store Store
	nowFn func() time.Time
	ttl   time.Duration
}

// NewPending wires the state machine with the configured confirmation TTL.
func NewPending(store Store, now func() time.Time, ttl time.Duration) (*Pending, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Pending{store: store, nowFn: now, ttl: ttl}, nil
}

// Create stores a proposed mutation with expires_at = now + TTL.
func (pending *Pending) Create(ctx context.Context, shop ShopKey, actionType ActionType, payload any) (PendingAction, error) {
	if _, err := ParseActionType(actionType.String()); err != nil {
		return PendingAction{}, err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return PendingAction{}, WrapError("pending", "payload", "encode", err)
	}
	now := pending.nowFn().UTC()
	return pending.store.CreatePendingAction(ctx, PendingAction{
		ShopKey:     shop.String(),
		ActionType:  actionType,
		PayloadJSON: string(encoded),
		Status:      PendingStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(pending.ttl),
	})
}

// Latest returns the newest still-valid pending action for a shop, after
// lazily sweeping every pending-but-past-expiry row to expired. Returns nil
// when none exists.
func (pending *Pending) Latest(ctx context.Context, shop ShopKey) (*PendingAction, error) {
	now := pending.nowFn().UTC()
	if err := pending.store.ExpirePendingActions(ctx, shop.String(), now); err != nil {
		return nil, err
	}
	return pending.store.LatestPendingAction(ctx, shop.String(), now)
}

// Get fetches an action by id regardless of status. Returns nil when absent.
func (pending *Pending) Get(ctx context.Context, actionID string) (*PendingAction, error) {
	return pending.store.GetPendingAction(ctx, actionID)
}

// Claim attempts to take exclusive ownership of the commit for an action.
// The transition is conditional on the row still being pending, so two
// concurrent confirmations cannot both commit: exactly one caller observes
// ClaimWon. Id-based lookups bypass the shop-scoped lazy sweep, so the wall
// clock is re-checked here and a stale action is flipped to expired instead
// of committing.
func (pending *Pending) Claim(ctx context.Context, action *PendingAction) (ClaimOutcome, error) {
	if action.Status.Terminal() {
		return ClaimAlreadyResolved, nil
	}
	if pending.nowFn().UTC().After(action.ExpiresAt) {
		if _, err := pending.store.TransitionPendingAction(ctx, action.ActionID, PendingStatusExpired); err != nil {
			return "", err
		}
		action.Status = PendingStatusExpired
		return ClaimExpired, nil
	}
	won, err := pending.store.TransitionPendingAction(ctx, action.ActionID, PendingStatusConfirmed)
	if err != nil {
		return "", err
	}
	if !won {
		return ClaimAlreadyResolved, nil
	}
	action.Status = PendingStatusConfirmed
	return ClaimWon, nil
}

// Cancel moves the action to cancelled, if it is still pending.
func (pending *Pending) Cancel(ctx context.Context, action *PendingAction) (ClaimOutcome, error) {
	if action.Status.Terminal() {
		return ClaimAlreadyResolved, nil
	}
	won, err := pending.store.TransitionPendingAction(ctx, action.ActionID, PendingStatusCancelled)
	if err != nil {
		return "", err
	}
	if !won {
		return ClaimAlreadyResolved, nil
	}
	action.Status = PendingStatusCancelled
	return ClaimWon, nil
}

// DecodePayload unmarshals the action payload into target.
func (action PendingAction) DecodePayload(target any) error {
	if err := json.Unmarshal([]byte(action.PayloadJSON), target); err != nil {
		return WrapError("pending", "payload", "decode", err)
	}
	return nil
}
