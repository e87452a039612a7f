// Package provider talks to the external real-time media and whiteboard services.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/liveclass/internal/models"
)

// ErrProvider wraps every failure returned by an external room provider.
var ErrProvider = errors.New("provider: external call failed")

// RoomHandle identifies a provisioned media room.
type RoomHandle struct {
	RoomID   string
	RoomName string
}

// JoinCredential is a per-user token for a media room. StableRef is identical for the
// same (room, user) pair across calls so reconnects keep their identity.
type JoinCredential struct {
	Token        string
	StableRef    uint32
	ProviderRole string
	ExpiresAt    time.Time
}

// RoomProvisioner creates media rooms and mints join credentials.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, name string, durationMinutes int) (RoomHandle, error)
	IssueJoinCredential(ctx context.Context, roomID, userID string, role models.ParticipantRole) (JoinCredential, error)
	StartRecording(ctx context.Context, roomID string) (string, error)
	StopRecording(ctx context.Context, recordingID string) error
	DestroyOrBanRoom(ctx context.Context, roomID string) error
}

// AccessRole is the permission level of a whiteboard room token.
type AccessRole string

const (
	AccessAdmin  AccessRole = "admin"
	AccessWriter AccessRole = "writer"
	AccessReader AccessRole = "reader"
)

// WhiteboardRoom describes a provisioned whiteboard room.
type WhiteboardRoom struct {
	UUID      string `json:"uuid"`
	TeamUUID  string `json:"teamUUID"`
	AppUUID   string `json:"appUUID"`
	IsBanned  bool   `json:"isBan"`
	CreatedAt string `json:"createdAt"`
}

// WhiteboardProvisioner creates, authorizes and bans whiteboard rooms.
type WhiteboardProvisioner interface {
	CreateRoom(ctx context.Context, capacity int) (WhiteboardRoom, error)
	IssueAccessToken(ctx context.Context, roomUUID string, role AccessRole) (string, error)
	BanRoom(ctx context.Context, roomUUID string) error
}
