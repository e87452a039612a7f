package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/provider"
)

var (
	// ErrSessionNotFound indicates the video session record could not be located.
	ErrSessionNotFound = errors.New("video session service: session not found")
	// ErrSessionAlreadyExists is returned when a live session already owns the class session id.
	ErrSessionAlreadyExists = errors.New("video session service: session already exists for class session")
	// ErrSessionNotJoinable covers joins outside the join window or in a terminal state.
	ErrSessionNotJoinable = errors.New("video session service: session is not joinable")
	// ErrSessionNotActive is returned when an operation needs an in-progress session.
	ErrSessionNotActive = errors.New("video session service: session is not active")
	// ErrSessionUnauthorized indicates the user is not bound to the session in the claimed role.
	ErrSessionUnauthorized = errors.New("video session service: user not authorized for session")
	// ErrInvalidTransition is returned when the state machine forbids the requested move.
	ErrInvalidTransition = errors.New("video session service: status transition not allowed")
	// ErrConcurrentModification is returned when optimistic retries are exhausted.
	ErrConcurrentModification = errors.New("video session service: concurrent modification")

	// ErrWhiteboardNotFound indicates no whiteboard room exists for the class session.
	ErrWhiteboardNotFound = errors.New("whiteboard service: whiteboard not found")
	// ErrWhiteboardForbidden indicates the caller may not use the whiteboard.
	ErrWhiteboardForbidden = errors.New("whiteboard service: access forbidden")
	// ErrWhiteboardClosed is returned for a class session whose whiteboard was closed permanently.
	ErrWhiteboardClosed = errors.New("whiteboard service: whiteboard closed")
	// ErrSnapshotNotFound covers absent snapshots and snapshots the caller may not read.
	ErrSnapshotNotFound = errors.New("whiteboard service: snapshot not found")

	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvider is returned when an external room provider fails.
	ErrProvider = provider.ErrProvider

	// errVersionConflict signals a lost optimistic update; callers retry.
	errVersionConflict = errors.New("version conflict")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}
