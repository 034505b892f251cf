// Package tokens issues LiveKit access tokens for kiosk front ends and
// normalizes the room names they ask for.
package tokens

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
)

const (
	MaxIdentityLength = 256
	MaxRoomNameLength = 128

	DefaultValidFor     = 6 * time.Hour
	DefaultEmptyTimeout = 5 * time.Minute
)

var (
	ErrInvalidRequest = errors.New("invalid token request")
	ErrNotConfigured  = errors.New("livekit credentials not configured")
)

// Request is the body of POST /api/token. Grants left unset are allowed.
type Request struct {
	Identity            string `json:"identity"`
	RoomName            string `json:"roomName"`
	GrantCanPublish     *bool  `json:"grantCanPublish,omitempty"`
	GrantCanPublishData *bool  `json:"grantCanPublishData,omitempty"`
	GrantCanSubscribe   *bool  `json:"grantCanSubscribe,omitempty"`
	Metadata            string `json:"metadata,omitempty"`
}

type Response struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
	Identity string `json:"identity"`
}

// ValidateRequest reports the first problem with req.
func ValidateRequest(req Request) error {
	switch {
	case req.Identity == "":
		return fmt.Errorf("%w: missing required field: identity", ErrInvalidRequest)
	case req.RoomName == "":
		return fmt.Errorf("%w: missing required field: roomName", ErrInvalidRequest)
	case len(req.Identity) > MaxIdentityLength:
		return fmt.Errorf("%w: identity exceeds maximum length of %d characters", ErrInvalidRequest, MaxIdentityLength)
	case len(req.RoomName) > MaxRoomNameLength:
		return fmt.Errorf("%w: room name exceeds maximum length of %d characters", ErrInvalidRequest, MaxRoomNameLength)
	}
	return nil
}

var roomNameInvalid = regexp.MustCompile(`[^a-z0-9_-]`)

// ParseRoomName lowercases name, replaces every character outside
// [a-z0-9_-] with '-' and truncates to MaxRoomNameLength.
func ParseRoomName(name string) string {
	name = roomNameInvalid.ReplaceAllString(strings.ToLower(name), "-")
	if len(name) > MaxRoomNameLength {
		name = name[:MaxRoomNameLength]
	}
	return name
}

type RoomOptions struct {
	RoomName        string
	EmptyTimeout    time.Duration // Zero means DefaultEmptyTimeout.
	MaxParticipants uint32        // Zero means unlimited.
	Metadata        string
}

// RoomConfig returns the create request for a kiosk room.
func RoomConfig(opts RoomOptions) *livekit.CreateRoomRequest {
	timeout := opts.EmptyTimeout
	if timeout <= 0 {
		timeout = DefaultEmptyTimeout
	}
	return &livekit.CreateRoomRequest{
		Name:            ParseRoomName(opts.RoomName),
		EmptyTimeout:    uint32(timeout / time.Second),
		MaxParticipants: opts.MaxParticipants,
		Metadata:        opts.Metadata,
	}
}

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	ValidFor  time.Duration
}

// Issuer signs participant tokens.
type Issuer struct {
	config Config
	now    func() time.Time
}

func NewIssuer(config Config) *Issuer {
	if config.ValidFor <= 0 {
		config.ValidFor = DefaultValidFor
	}
	return &Issuer{config: config, now: time.Now}
}

func (i *Issuer) URL() string { return i.config.URL }

// Configured reports whether tokens can be signed.
func (i *Issuer) Configured() bool {
	return i.config.URL != "" && i.config.APIKey != "" && i.config.APISecret != ""
}

// Issue validates req, normalizes the room name and signs a join token.
func (i *Issuer) Issue(req Request) (Response, error) {
	if err := ValidateRequest(req); err != nil {
		return Response{}, err
	}
	if !i.Configured() {
		return Response{}, ErrNotConfigured
	}

	roomName := ParseRoomName(req.RoomName)
	metadata := req.Metadata
	if metadata == "" {
		created, err := sonic.MarshalString(map[string]int64{"createdAt": i.now().UnixMilli()})
		if err != nil {
			return Response{}, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = created
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: roomName}
	grant.SetCanPublish(allowed(req.GrantCanPublish))
	grant.SetCanPublishData(allowed(req.GrantCanPublishData))
	grant.SetCanSubscribe(allowed(req.GrantCanSubscribe))

	token, err := auth.NewAccessToken(i.config.APIKey, i.config.APISecret).
		SetIdentity(req.Identity).
		SetName(req.Identity).
		SetMetadata(metadata).
		SetValidFor(i.config.ValidFor).
		SetVideoGrant(grant).
		ToJWT()
	if err != nil {
		return Response{}, fmt.Errorf("sign token: %w", err)
	}

	return Response{
		Token:    token,
		URL:      i.config.URL,
		RoomName: roomName,
		Identity: req.Identity,
	}, nil
}

func allowed(grant *bool) bool {
	return grant == nil || *grant
}

// LiveKitHealthy reports whether rawURL is a usable server address.
func LiveKitHealthy(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Version is reported by the health endpoint.
var Version = "1.0.0"

func formatUptime(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
}
