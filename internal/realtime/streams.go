package realtime

import "strings"

// Named realtime streams.
const (
	// StreamNotifications carries point-to-point notifications for the connected user.
	StreamNotifications = "notifications"
	// ClassSessionPrefix prefixes the per-class topic carrying lifecycle updates.
	ClassSessionPrefix = "class-session."
)

// ClassSessionStream returns the topic stream for a class session.
func ClassSessionStream(classSessionID string) string {
	return normalizeStream(ClassSessionPrefix + classSessionID)
}

// ClassSessionID extracts the class session id from a class-session stream name.
func ClassSessionID(stream string) (string, bool) {
	stream = normalizeStream(stream)
	id, ok := strings.CutPrefix(stream, ClassSessionPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
