package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultAppName namespaces identities when none is configured.
const DefaultAppName = "ai-educate"

// MaxIDLength bounds userId and sessionId.
const MaxIDLength = 128

// ErrInvalidID is returned for identities that fail validation.
var ErrInvalidID = errors.New("invalid session identity")

// Handle is the resolved, immutable identity bound to one connection.
type Handle struct {
	ID         string    `json:"id"`
	AppName    string    `json:"appName"`
	UserID     string    `json:"userId"`
	SessionID  string    `json:"sessionId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Resumed    bool      `json:"resumed"`
}

// ContextNote is the synthetic first message telling the agent who it is
// talking to.
func (h Handle) ContextNote() string {
	return fmt.Sprintf("System Note: The current user is %s and the session is %s.", h.UserID, h.SessionID)
}

// Resolver looks up or creates the session for an identity.
type Resolver interface {
	Resolve(ctx context.Context, userID, sessionID string) (Handle, error)
}

// Store is a Resolver with retention and lifecycle.
type Store interface {
	Resolver
	// Sweep deletes sessions not seen since before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// ValidateID checks one half of an identity.
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidID, field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidID, field, MaxIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: %s cannot contain '..'", ErrInvalidID, field)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("%w: %s cannot contain path separators", ErrInvalidID, field)
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("%w: %s cannot contain null bytes", ErrInvalidID, field)
	}
	return nil
}

// ValidateIdentity validates both halves of an identity.
func ValidateIdentity(userID, sessionID string) error {
	if err := ValidateID("user id", userID); err != nil {
		return err
	}
	return ValidateID("session id", sessionID)
}
