// Package providertest offers in-memory room provisioners for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/provider"
)

// Rooms is an in-memory provider.RoomProvisioner that records every call.
type Rooms struct {
	mu         sync.Mutex
	Created    []string
	Destroyed  []string
	Stopped    []string
	Issued     int
	Recordings int

	CreateErr error
	RecordErr error
}

var _ provider.RoomProvisioner = (*Rooms)(nil)

// CreateRoom implements provider.RoomProvisioner. The room id equals the requested name.
func (f *Rooms) CreateRoom(_ context.Context, name string, _ int) (provider.RoomHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return provider.RoomHandle{}, fmt.Errorf("%w: rtc create_room: %v", provider.ErrProvider, f.CreateErr)
	}
	f.Created = append(f.Created, name)
	return provider.RoomHandle{RoomID: name, RoomName: name}, nil
}

// IssueJoinCredential implements provider.RoomProvisioner. Tokens differ per call.
func (f *Rooms) IssueJoinCredential(_ context.Context, roomID, userID string, role models.ParticipantRole) (provider.JoinCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Issued++
	policy, _ := role.Policy()
	return provider.JoinCredential{
		Token:        fmt.Sprintf("%s/%s/%d", roomID, userID, f.Issued),
		StableRef:    provider.StableUserRef(userID),
		ProviderRole: policy.MediaRole,
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

// StartRecording implements provider.RoomProvisioner.
func (f *Rooms) StartRecording(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RecordErr != nil {
		return "", fmt.Errorf("%w: rtc start_recording: %v", provider.ErrProvider, f.RecordErr)
	}
	f.Recordings++
	return fmt.Sprintf("rec-%d", f.Recordings), nil
}

// StopRecording implements provider.RoomProvisioner.
func (f *Rooms) StopRecording(_ context.Context, recordingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = append(f.Stopped, recordingID)
	return nil
}

// DestroyOrBanRoom implements provider.RoomProvisioner.
func (f *Rooms) DestroyOrBanRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = append(f.Destroyed, roomID)
	return nil
}

// SetCreateErr makes subsequent CreateRoom calls fail.
func (f *Rooms) SetCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateErr = err
}

// SetRecordErr makes subsequent StartRecording calls fail.
func (f *Rooms) SetRecordErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RecordErr = err
}

// IssuedCount reports how many join credentials were minted.
func (f *Rooms) IssuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Issued
}

// DestroyedRooms returns a copy of the destroyed room ids.
func (f *Rooms) DestroyedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Destroyed...)
}

// Boards is an in-memory provider.WhiteboardProvisioner that records every call.
type Boards struct {
	mu      sync.Mutex
	Created []int
	Banned  []string
	tokens  map[provider.AccessRole]int

	BanErr   error
	tokenErr error
}

var _ provider.WhiteboardProvisioner = (*Boards)(nil)

// CreateRoom implements provider.WhiteboardProvisioner and records the capacity.
func (f *Boards) CreateRoom(_ context.Context, capacity int) (provider.WhiteboardRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, capacity)
	return provider.WhiteboardRoom{
		UUID:     fmt.Sprintf("wb-%d", len(f.Created)),
		TeamUUID: "team",
		AppUUID:  "app",
	}, nil
}

// IssueAccessToken implements provider.WhiteboardProvisioner.
func (f *Boards) IssueAccessToken(_ context.Context, roomUUID string, role provider.AccessRole) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		err := f.tokenErr
		f.tokenErr = nil
		return "", fmt.Errorf("%w: whiteboard issue_token: %v", provider.ErrProvider, err)
	}
	if f.tokens == nil {
		f.tokens = make(map[provider.AccessRole]int)
	}
	f.tokens[role]++
	return fmt.Sprintf("NETLESSROOM_%s_%s_%d", roomUUID, role, f.tokens[role]), nil
}

// BanRoom implements provider.WhiteboardProvisioner.
func (f *Boards) BanRoom(_ context.Context, roomUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BanErr != nil {
		return fmt.Errorf("%w: whiteboard ban_room: %v", provider.ErrProvider, f.BanErr)
	}
	f.Banned = append(f.Banned, roomUUID)
	return nil
}

// FailNextToken makes the next IssueAccessToken call fail with err.
func (f *Boards) FailNextToken(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenErr = err
}

// SetBanErr makes subsequent BanRoom calls fail.
func (f *Boards) SetBanErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BanErr = err
}

// TokenCount reports how many tokens were minted for role.
func (f *Boards) TokenCount(role provider.AccessRole) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[role]
}

// CreatedCount reports how many rooms were provisioned.
func (f *Boards) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

// BannedRooms returns a copy of the banned room uuids.
func (f *Boards) BannedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Banned...)
}
