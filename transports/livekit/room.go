package livekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"kioskagent/core"
)

var (
	ErrNotConnected     = errors.New("room not connected")
	ErrRoomDisconnected = errors.New("room disconnected")
)

type RoomConfig struct {
	URL      string
	RoomName string

	// Token joins with a dispatch token. Without one the room signs its
	// own from APIKey and APISecret.
	Token     string
	APIKey    string
	APISecret string

	Identity  string
	AgentName string

	InSampleRate  int // Rate delivered to the pipeline.
	OutSampleRate int // Rate of the published track.
	OutChannels   int
	TrackName     string

	Logger *core.Logger
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		AgentName:     "agent",
		InSampleRate:  16000,
		OutSampleRate: 24000,
		OutChannels:   1,
		TrackName:     "agent-audio",
	}
}

// Room is one agent connection to a LiveKit room. It subscribes to audio
// only, links the first non-agent participant and plays pipeline audio on
// a single microphone track.
type Room struct {
	config RoomConfig
	logger *core.Logger

	mu           sync.RWMutex
	client       *lksdk.Room
	audioTrack   *lkmedia.PCMLocalTrack
	remoteTracks map[string]*lkmedia.PCMRemoteTrack
	linked       string
	sink         chan<- core.AudioChunk

	participantCh chan string
	done          chan struct{}
	doneOnce      sync.Once
	closeOnce     sync.Once
}

func NewRoom(config RoomConfig) *Room {
	defaults := DefaultRoomConfig()
	if config.InSampleRate == 0 {
		config.InSampleRate = defaults.InSampleRate
	}
	if config.OutSampleRate == 0 {
		config.OutSampleRate = defaults.OutSampleRate
	}
	if config.OutChannels == 0 {
		config.OutChannels = defaults.OutChannels
	}
	if config.TrackName == "" {
		config.TrackName = defaults.TrackName
	}
	if config.AgentName == "" {
		config.AgentName = defaults.AgentName
	}
	logger := config.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Room{
		config:        config,
		logger:        logger.With(map[string]interface{}{"component": "room", "room": config.RoomName}),
		remoteTracks:  make(map[string]*lkmedia.PCMRemoteTrack),
		participantCh: make(chan string, 1),
		done:          make(chan struct{}),
	}
}

// Connect joins the room without auto subscription and publishes the
// outbound audio track.
func (r *Room) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.config.URL == "" || r.config.RoomName == "" {
		return errors.New("room: url and room name are required")
	}

	token := r.config.Token
	if token == "" {
		var err error
		token, err = r.signToken()
		if err != nil {
			return err
		}
	}

	r.logger.Info("connecting to room", "url", r.config.URL)
	client, err := lksdk.ConnectToRoomWithToken(r.config.URL, token, r.callbacks(), lksdk.WithAutoSubscribe(false))
	if err != nil {
		return fmt.Errorf("connect to room %s: %w", r.config.RoomName, err)
	}

	track, err := lkmedia.NewPCMLocalTrack(r.config.OutSampleRate, r.config.OutChannels, nil)
	if err != nil {
		client.Disconnect()
		return fmt.Errorf("create audio track: %w", err)
	}
	pub, err := client.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   r.config.TrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		client.Disconnect()
		return fmt.Errorf("publish audio track: %w", err)
	}

	client.LocalParticipant.SetAttributes(map[string]string{
		"lk.agent.state": "listening",
		"lk.agent.name":  r.config.AgentName,
	})

	r.mu.Lock()
	r.client = client
	r.audioTrack = track
	r.mu.Unlock()

	r.logger.Info("connected to room",
		"identity", client.LocalParticipant.Identity(),
		"trackSID", pub.SID(),
		"sampleRate", r.config.OutSampleRate,
	)

	for _, rp := range client.GetRemoteParticipants() {
		r.handleParticipantConnected(rp)
		r.subscribeAudio(rp)
	}
	return nil
}

func (r *Room) signToken() (string, error) {
	if r.config.APIKey == "" || r.config.APISecret == "" {
		return "", errors.New("room: api key and secret are required without a token")
	}
	identity := r.config.Identity
	if identity == "" {
		identity = fmt.Sprintf("agent-%s-%x", r.config.AgentName, randBytes(4))
	}
	token, err := auth.NewAccessToken(r.config.APIKey, r.config.APISecret).
		SetIdentity(identity).
		SetName(r.config.AgentName).
		SetValidFor(6 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     r.config.RoomName,
			Agent:    true,
		}).
		ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return token, nil
}

func (r *Room) callbacks() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.subscribeAudio(rp)
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.handleRemoteTrack(track, rp)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.closeRemoteTrack(track.ID())
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.handleParticipantConnected(rp)
			r.subscribeAudio(rp)
		},
		OnParticipantDisconnected: r.handleParticipantDisconnected,
		OnDisconnected: func() {
			r.logger.Warn("disconnected from room")
			r.finish()
		},
	}
}

func isAgent(rp *lksdk.RemoteParticipant) bool {
	attrs := rp.Attributes()
	if attrs["lk.participant.kind"] == "agent" {
		return true
	}
	_, ok := attrs["lk.agent.name"]
	return ok
}

func (r *Room) handleParticipantConnected(rp *lksdk.RemoteParticipant) {
	if isAgent(rp) {
		return
	}
	identity := rp.Identity()

	r.mu.Lock()
	first := r.linked == ""
	if first {
		r.linked = identity
	}
	r.mu.Unlock()

	r.logger.Info("participant connected", "identity", identity, "linked", first)
	if first {
		select {
		case r.participantCh <- identity:
		default:
		}
	}
}

func (r *Room) handleParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	wasLinked := r.linked == rp.Identity()
	r.mu.Unlock()

	r.logger.Info("participant disconnected", "identity", rp.Identity(), "linked", wasLinked)
	if wasLinked {
		r.finish()
	}
}

// subscribeAudio subscribes to the microphone of the linked participant.
func (r *Room) subscribeAudio(rp *lksdk.RemoteParticipant) {
	r.mu.RLock()
	linked := r.linked
	r.mu.RUnlock()
	if linked != rp.Identity() {
		return
	}

	for _, pub := range rp.TrackPublications() {
		remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
		if !ok || pub.Kind() != lksdk.TrackKindAudio || remotePub.IsSubscribed() {
			continue
		}
		if err := remotePub.SetSubscribed(true); err != nil {
			r.logger.Error("failed to subscribe to audio track", "participant", rp.Identity(), "trackSID", remotePub.SID(), "error", err)
			continue
		}
		r.logger.Debug("subscribed to audio track", "participant", rp.Identity(), "trackSID", remotePub.SID())
	}
}

func (r *Room) handleRemoteTrack(track *webrtc.TrackRemote, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	r.mu.RLock()
	linked := r.linked
	r.mu.RUnlock()
	if rp.Identity() != linked {
		return
	}

	pcm, err := lkmedia.NewPCMRemoteTrack(track, &pcmWriter{room: r},
		lkmedia.WithTargetSampleRate(r.config.InSampleRate),
		lkmedia.WithTargetChannels(1),
	)
	if err != nil {
		r.logger.Error("failed to decode remote track", "trackID", track.ID(), "error", err)
		return
	}

	r.mu.Lock()
	r.remoteTracks[track.ID()] = pcm
	r.mu.Unlock()

	r.logger.Info("receiving audio", "trackID", track.ID(), "codec", track.Codec().MimeType, "participant", rp.Identity())
}

func (r *Room) closeRemoteTrack(id string) {
	r.mu.Lock()
	pcm, ok := r.remoteTracks[id]
	delete(r.remoteTracks, id)
	r.mu.Unlock()
	if ok {
		pcm.Close()
	}
}

// WaitForParticipant blocks until a non-agent participant is linked and
// returns its identity.
func (r *Room) WaitForParticipant(ctx context.Context) (string, error) {
	r.mu.RLock()
	linked := r.linked
	r.mu.RUnlock()
	if linked != "" {
		return linked, nil
	}

	select {
	case identity := <-r.participantCh:
		return identity, nil
	case <-r.done:
		return "", ErrRoomDisconnected
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PublishData sends payload reliably to every participant on topic.
func (r *Room) PublishData(ctx context.Context, payload []byte, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil || client.LocalParticipant == nil {
		return ErrNotConnected
	}

	return client.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	)
}

// StartReceiving feeds decoded participant audio to out until ctx ends
// or the session is over.
func (r *Room) StartReceiving(ctx context.Context, out chan<- core.AudioChunk) error {
	r.mu.Lock()
	if r.client == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	r.sink = out
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.sink = nil
		r.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
	case <-r.done:
	}
	return nil
}

func (r *Room) deliver(chunk core.AudioChunk) {
	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	if sink == nil {
		return
	}
	select {
	case sink <- chunk:
	default:
		r.logger.Debug("input audio channel full, dropping frame")
	}
}

// WriteAudio queues PCM at the track rate for playout.
func (r *Room) WriteAudio(chunk core.AudioChunk) error {
	r.mu.RLock()
	track := r.audioTrack
	r.mu.RUnlock()
	if track == nil {
		return ErrNotConnected
	}
	return track.WriteSample(media.PCM16Sample(chunk.Samples()))
}

// ClearAudio drops queued playout.
func (r *Room) ClearAudio() {
	r.mu.RLock()
	track := r.audioTrack
	r.mu.RUnlock()
	if track != nil {
		track.ClearQueue()
	}
}

// Done is closed when the linked participant leaves or the connection
// drops.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Close unpublishes the track before leaving so the peer connection shuts
// down cleanly.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		r.finish()

		r.mu.Lock()
		remotes := r.remoteTracks
		r.remoteTracks = make(map[string]*lkmedia.PCMRemoteTrack)
		track := r.audioTrack
		r.audioTrack = nil
		client := r.client
		r.client = nil
		r.mu.Unlock()

		for _, pcm := range remotes {
			pcm.Close()
		}
		if track != nil {
			track.Close()
		}
		if client != nil {
			client.Disconnect()
		}
		r.logger.Info("left room")
	})
	return nil
}

// pcmWriter receives decoded remote audio.
type pcmWriter struct {
	room *Room
}

func (w *pcmWriter) WriteSample(sample media.PCM16Sample) error {
	w.room.deliver(core.NewPCMChunk(sample, w.room.config.InSampleRate, 1))
	return nil
}

func (w *pcmWriter) SampleRate() int { return w.room.config.InSampleRate }

func (w *pcmWriter) String() string { return "kiosk-pcm-writer" }

func (w *pcmWriter) Close() error { return nil }
