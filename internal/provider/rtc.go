package provider

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/models"
)

const (
	rtcProviderName     = "rtc"
	defaultRTCTokenTTL  = 24 * time.Hour
	maxChannelNameBytes = 64
)

// RTCConfig configures the media room provider.
type RTCConfig struct {
	AppID          string
	AppCertificate string
	TokenTTL       time.Duration
	// APIBaseURL points at the provider's REST API for recording and room teardown.
	// When empty, rooms expire on their own and recording ids are generated locally.
	APIBaseURL    string
	APIToken      string
	Timeout       time.Duration
	RetryAttempts int
}

// RTCClient provisions media rooms. Rooms are channels created implicitly on first join,
// so CreateRoom only normalises the name; credentials are HS256 tokens signed with the app certificate.
type RTCClient struct {
	cfg    RTCConfig
	caller *caller
	now    func() time.Time
	log    *zap.Logger
}

// RTCClaims is the payload of a media join credential.
type RTCClaims struct {
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

var _ RoomProvisioner = (*RTCClient)(nil)

// NewRTCClient validates cfg and constructs the client.
func NewRTCClient(cfg RTCConfig, opts ...Option) (*RTCClient, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	if cfg.AppID == "" {
		return nil, errors.New("rtc provider: app id is required")
	}
	if strings.TrimSpace(cfg.AppCertificate) == "" {
		return nil, errors.New("rtc provider: app certificate is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultRTCTokenTTL
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	o := applyOptions(opts)
	return &RTCClient{
		cfg:    cfg,
		caller: newCaller(rtcProviderName, o.client, cfg.Timeout, cfg.RetryAttempts, o.log),
		now:    o.now,
		log:    o.log,
	}, nil
}

// CreateRoom returns a channel handle for name.
func (c *RTCClient) CreateRoom(_ context.Context, name string, durationMinutes int) (RoomHandle, error) {
	channel := sanitizeChannelName(name)
	if channel == "" {
		return RoomHandle{}, fmt.Errorf("%w: rtc create_room: empty room name", ErrProvider)
	}
	c.log.Debug("media room ready", zap.String("channel", channel), zap.Int("duration_minutes", durationMinutes))
	return RoomHandle{RoomID: channel, RoomName: channel}, nil
}

// IssueJoinCredential signs a credential for userID in roomID.
func (c *RTCClient) IssueJoinCredential(_ context.Context, roomID, userID string, role models.ParticipantRole) (JoinCredential, error) {
	policy, ok := role.Policy()
	if !ok {
		return JoinCredential{}, fmt.Errorf("%w: rtc issue_credential: unknown role %q", ErrProvider, role)
	}
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" || userID == "" {
		return JoinCredential{}, fmt.Errorf("%w: rtc issue_credential: room and user are required", ErrProvider)
	}

	now := c.now()
	expires := now.Add(c.cfg.TokenTTL)
	uid := StableUserRef(userID)
	claims := RTCClaims{
		AppID:   c.cfg.AppID,
		Channel: roomID,
		UID:     uid,
		Role:    policy.MediaRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.AppCertificate))
	if err != nil {
		return JoinCredential{}, fmt.Errorf("%w: rtc issue_credential: %v", ErrProvider, err)
	}

	return JoinCredential{
		Token:        token,
		StableRef:    uid,
		ProviderRole: policy.MediaRole,
		ExpiresAt:    expires,
	}, nil
}

// ParseJoinCredential verifies a credential minted by this client.
func (c *RTCClient) ParseJoinCredential(token string) (*RTCClaims, error) {
	claims := &RTCClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(c.cfg.AppCertificate), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// StartRecording starts cloud recording for roomID. Not retried: a repeat would start a second recorder.
func (c *RTCClient) StartRecording(ctx context.Context, roomID string) (string, error) {
	if c.cfg.APIBaseURL == "" {
		id := "rec_" + uuid.NewString()
		c.log.Info("recording id generated locally", zap.String("room_id", roomID), zap.String("recording_id", id))
		return id, nil
	}

	var out struct {
		RecordingID string `json:"recording_id"`
	}
	err := c.caller.do(ctx, "start_recording", 1, func(ctx context.Context) error {
		return c.caller.sendJSON(ctx, http.MethodPost, c.cfg.APIBaseURL+"/recordings", c.headers(),
			map[string]string{"app_id": c.cfg.AppID, "room_id": roomID}, &out)
	})
	if err != nil {
		return "", err
	}
	if out.RecordingID == "" {
		return "", fmt.Errorf("%w: rtc start_recording: empty recording id", ErrProvider)
	}
	return out.RecordingID, nil
}

// StopRecording stops a recording. Stopping twice is harmless so the call is retried.
func (c *RTCClient) StopRecording(ctx context.Context, recordingID string) error {
	if c.cfg.APIBaseURL == "" {
		return nil
	}
	endpoint := c.cfg.APIBaseURL + "/recordings/" + url.PathEscape(recordingID) + "/stop"
	return c.caller.do(ctx, "stop_recording", c.caller.attempts, func(ctx context.Context) error {
		return c.caller.sendJSON(ctx, http.MethodPost, endpoint, c.headers(), nil, nil)
	})
}

// DestroyOrBanRoom removes a room so no further joins are admitted.
func (c *RTCClient) DestroyOrBanRoom(ctx context.Context, roomID string) error {
	if c.cfg.APIBaseURL == "" {
		return nil
	}
	endpoint := c.cfg.APIBaseURL + "/rooms/" + url.PathEscape(roomID)
	return c.caller.do(ctx, "destroy_room", c.caller.attempts, func(ctx context.Context) error {
		err := c.caller.sendJSON(ctx, http.MethodDelete, endpoint, c.headers(), nil, nil)
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil
		}
		return err
	})
}

func (c *RTCClient) headers() map[string]string {
	if c.cfg.APIToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIToken}
}

// StableUserRef maps a user id to a non-zero 32-bit media uid. It depends only on the user id.
func StableUserRef(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	if uid := h.Sum32(); uid != 0 {
		return uid
	}
	return 1
}

// sanitizeChannelName keeps characters accepted by media providers and caps the length.
func sanitizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxChannelNameBytes-1 {
			break
		}
	}
	return b.String()
}
