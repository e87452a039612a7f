package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	whiteboardProviderName   = "whiteboard"
	defaultWhiteboardBaseURL = "https://api.netless.link/v5"
	defaultWhiteboardRegion  = "us-sv"
	defaultWhiteboardTTL     = 24 * time.Hour
	// DefaultWhiteboardCapacity is used when a caller does not supply a limit.
	DefaultWhiteboardCapacity = 50
	// sdk tokens are renewed this long before they lapse.
	sdkTokenRenewal = 5 * time.Minute
)

// WhiteboardConfig configures the whiteboard REST client.
type WhiteboardConfig struct {
	BaseURL       string
	AccessKey     string
	SecretKey     string
	Region        string
	TokenTTL      time.Duration
	Timeout       time.Duration
	RetryAttempts int
}

// WhiteboardClient is a REST client for the whiteboard service. Calls authenticate with a
// team-level sdk token that is minted on demand and reused until shortly before it expires.
type WhiteboardClient struct {
	cfg    WhiteboardConfig
	caller *caller
	now    func() time.Time

	mu          sync.Mutex
	sdkToken    string
	sdkTokenExp time.Time
}

var _ WhiteboardProvisioner = (*WhiteboardClient)(nil)

// NewWhiteboardClient validates cfg and constructs the client.
func NewWhiteboardClient(cfg WhiteboardConfig, opts ...Option) (*WhiteboardClient, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("whiteboard provider: access key and secret key are required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWhiteboardBaseURL
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultWhiteboardRegion
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultWhiteboardTTL
	}

	o := applyOptions(opts)
	return &WhiteboardClient{
		cfg:    cfg,
		caller: newCaller(whiteboardProviderName, o.client, cfg.Timeout, cfg.RetryAttempts, o.log),
		now:    o.now,
	}, nil
}

// CreateRoom provisions a room admitting at most capacity users. Not retried: a repeat
// would leave an orphaned room behind.
func (c *WhiteboardClient) CreateRoom(ctx context.Context, capacity int) (WhiteboardRoom, error) {
	if capacity <= 0 {
		capacity = DefaultWhiteboardCapacity
	}
	var room WhiteboardRoom
	err := c.caller.do(ctx, "create_room", 1, func(ctx context.Context) error {
		headers, err := c.authHeaders(ctx)
		if err != nil {
			return err
		}
		body := map[string]any{"isRecord": false, "limit": capacity}
		return c.caller.sendJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/rooms", headers, body, &room)
	})
	if err != nil {
		return WhiteboardRoom{}, err
	}
	if room.UUID == "" {
		return WhiteboardRoom{}, fmt.Errorf("%w: whiteboard create_room: response carried no uuid", ErrProvider)
	}
	c.caller.log.Info("whiteboard room created", zap.String("room_uuid", room.UUID), zap.Int("capacity", capacity))
	return room, nil
}

// IssueAccessToken mints a room token with the given access level.
func (c *WhiteboardClient) IssueAccessToken(ctx context.Context, roomUUID string, role AccessRole) (string, error) {
	if strings.TrimSpace(roomUUID) == "" {
		return "", fmt.Errorf("%w: whiteboard issue_token: room uuid is required", ErrProvider)
	}
	switch role {
	case AccessAdmin, AccessWriter, AccessReader:
	default:
		return "", fmt.Errorf("%w: whiteboard issue_token: unknown role %q", ErrProvider, role)
	}

	var token string
	endpoint := c.cfg.BaseURL + "/tokens/rooms/" + url.PathEscape(roomUUID)
	err := c.caller.do(ctx, "issue_token", c.caller.attempts, func(ctx context.Context) error {
		headers, err := c.authHeaders(ctx)
		if err != nil {
			return err
		}
		body := map[string]any{"lifespan": c.cfg.TokenTTL.Milliseconds(), "role": string(role)}
		return c.caller.sendJSON(ctx, http.MethodPost, endpoint, headers, body, &token)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// BanRoom disables a room for every user. Banning is idempotent so the call is retried.
func (c *WhiteboardClient) BanRoom(ctx context.Context, roomUUID string) error {
	endpoint := c.cfg.BaseURL + "/rooms/" + url.PathEscape(roomUUID)
	return c.caller.do(ctx, "ban_room", c.caller.attempts, func(ctx context.Context) error {
		headers, err := c.authHeaders(ctx)
		if err != nil {
			return err
		}
		return c.caller.sendJSON(ctx, http.MethodPatch, endpoint, headers, map[string]bool{"isBan": true}, nil)
	})
}

func (c *WhiteboardClient) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := c.teamToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"token": token, "region": c.cfg.Region}, nil
}

func (c *WhiteboardClient) teamToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.sdkToken != "" && now.Before(c.sdkTokenExp.Add(-sdkTokenRenewal)) {
		return c.sdkToken, nil
	}

	body := map[string]any{
		"accessKey":       c.cfg.AccessKey,
		"secretAccessKey": c.cfg.SecretKey,
		"lifespan":        c.cfg.TokenTTL.Milliseconds(),
		"role":            string(AccessAdmin),
	}
	var token string
	headers := map[string]string{"region": c.cfg.Region}
	if err := c.caller.sendJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/tokens/teams", headers, body, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("empty sdk token")
	}
	c.sdkToken = token
	c.sdkTokenExp = now.Add(c.cfg.TokenTTL)
	return token, nil
}
