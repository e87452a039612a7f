package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/pkg/logger"
)

const defaultMembershipTimeout = 3 * time.Second

// MembershipChecker reports whether a user belongs to a class session.
type MembershipChecker interface {
	IsMember(ctx context.Context, classSessionID, userID string) (bool, error)
}

// MembershipAuthorizer admits every user to the notifications stream and members of a class
// session to its class-session stream. Any other stream is refused.
func MembershipAuthorizer(checker MembershipChecker, timeout time.Duration) Authorizer {
	if timeout <= 0 {
		timeout = defaultMembershipTimeout
	}
	log := logger.WithModule("realtime")
	return func(userID, stream string) bool {
		if stream == StreamNotifications {
			return true
		}
		classID, ok := ClassSessionID(stream)
		if !ok || checker == nil {
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		member, err := checker.IsMember(ctx, classID, userID)
		if err != nil {
			log.Warn("membership check failed",
				zap.String("user_id", userID),
				zap.String("class_session_id", classID),
				zap.Error(err),
			)
			return false
		}
		return member
	}
}
