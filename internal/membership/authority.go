package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// Pairing discriminators encoded into conversation keys. The pairing
// names the role relationship the conversation was opened under.
const (
	PairingUserMentor  = "um"
	PairingMentorAdmin = "ma"
)

const keyPrefix = "dm"

// Authority is the role-pairing gate for starting and joining
// conversations. Every rule is an explicit allow; anything else is
// denied.
type Authority struct {
	roles interfaces.RoleDirectory
}

// NewAuthority creates an authority backed by the given role directory.
// The directory is consulted on every check so role changes made by the
// platform take effect mid-session.
func NewAuthority(roles interfaces.RoleDirectory) *Authority {
	return &Authority{roles: roles}
}

// pairingFor returns the pairing discriminator for two roles, in either
// order. The allowed set: user with mentor, mentor with admin. Every
// other combination, including same-role pairs, is denied.
func pairingFor(a, b types.Role) (string, bool) {
	switch {
	case a == types.RoleUser && b == types.RoleMentor,
		a == types.RoleMentor && b == types.RoleUser:
		return PairingUserMentor, true
	case a == types.RoleMentor && b == types.RoleAdmin,
		a == types.RoleAdmin && b == types.RoleMentor:
		return PairingMentorAdmin, true
	}
	return "", false
}

// DeriveKey computes the deterministic conversation key for two
// identities. Order-independent: DeriveKey(a, b) == DeriveKey(b, a).
// Self-conversations are rejected, as is any role pairing outside the
// allowed set.
func DeriveKey(a, b types.Identity) (string, error) {
	if a.ID == b.ID {
		return "", ErrSelfConversation
	}
	pairing, ok := pairingFor(a.Role, b.Role)
	if !ok {
		return "", fmt.Errorf("%w: %s and %s", ErrPairingDenied, a.Role, b.Role)
	}
	lo, hi := a.ID, b.ID
	if lo > hi {
		lo, hi = hi, lo
	}
	return strings.Join([]string{keyPrefix, pairing, lo, hi}, ":"), nil
}

// Key is a parsed conversation key.
type Key struct {
	Pairing       string
	ParticipantLo string
	ParticipantHi string
}

// String re-encodes the key in canonical form.
func (k Key) String() string {
	return strings.Join([]string{keyPrefix, k.Pairing, k.ParticipantLo, k.ParticipantHi}, ":")
}

// Counterparty returns the other participant relative to userID, and
// whether userID is a participant at all.
func (k Key) Counterparty(userID string) (string, bool) {
	switch userID {
	case k.ParticipantLo:
		return k.ParticipantHi, true
	case k.ParticipantHi:
		return k.ParticipantLo, true
	}
	return "", false
}

// ParseKey validates a client-supplied conversation key. Clients only
// ever supply keys as lookup hints; the parsed form is re-verified
// against current roles before any access is granted.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != keyPrefix {
		return Key{}, ErrInvalidKey
	}
	if parts[1] != PairingUserMentor && parts[1] != PairingMentorAdmin {
		return Key{}, ErrInvalidKey
	}
	lo, hi := parts[2], parts[3]
	if !types.IsValidUserID(lo) || !types.IsValidUserID(hi) || lo >= hi {
		return Key{}, ErrInvalidKey
	}
	return Key{Pairing: parts[1], ParticipantLo: lo, ParticipantHi: hi}, nil
}

// Authorize checks that user may open a conversation with counterparty
// and returns the conversation it resolves to. Both roles are read
// fresh from the directory.
func (a *Authority) Authorize(ctx context.Context, user types.Identity, counterpartyID string) (*types.Conversation, error) {
	if user.ID == counterpartyID {
		return nil, ErrSelfConversation
	}

	userRole, err := a.roles.RoleOf(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving role of %s: %w", user.ID, err)
	}
	counterpartyRole, err := a.roles.RoleOf(ctx, counterpartyID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrUnknownCounterparty
		}
		return nil, fmt.Errorf("resolving role of %s: %w", counterpartyID, err)
	}

	key, err := DeriveKey(
		types.Identity{ID: user.ID, Role: userRole},
		types.Identity{ID: counterpartyID, Role: counterpartyRole},
	)
	if err != nil {
		return nil, err
	}

	parsed, _ := ParseKey(key)
	return &types.Conversation{
		Key:           key,
		Pairing:       parsed.Pairing,
		ParticipantLo: parsed.ParticipantLo,
		ParticipantHi: parsed.ParticipantHi,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// CanAccess re-validates that user may read and write the conversation
// named by key. Checked on every join and every send: the user must be
// a participant and the participants' current roles must still form the
// pairing the key was derived under.
func (a *Authority) CanAccess(ctx context.Context, user types.Identity, key string) error {
	parsed, err := ParseKey(key)
	if err != nil {
		return err
	}

	counterpartyID, ok := parsed.Counterparty(user.ID)
	if !ok {
		return ErrNotParticipant
	}

	userRole, err := a.roles.RoleOf(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("resolving role of %s: %w", user.ID, err)
	}
	counterpartyRole, err := a.roles.RoleOf(ctx, counterpartyID)
	if err != nil {
		return fmt.Errorf("resolving role of %s: %w", counterpartyID, err)
	}

	pairing, allowed := pairingFor(userRole, counterpartyRole)
	if !allowed || pairing != parsed.Pairing {
		return fmt.Errorf("%w: %s and %s", ErrPairingDenied, userRole, counterpartyRole)
	}
	return nil
}
