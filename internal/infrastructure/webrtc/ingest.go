package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/pkg/tracing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// IngestConfig WebRTC configuration
type IngestConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// KeyframeInterval is how often video publishers are asked for a keyframe.
	KeyframeInterval time.Duration
}

// StreamListener is told about every new stream a user publishes.
type StreamListener func(ctx context.Context, callID domain.CallID, userID domain.UserID, stream *domain.MediaStream)

type publisherKey struct {
	callID domain.CallID
	userID domain.UserID
}

// publisher is one user's receive-only connection.
type publisher struct {
	key       publisherKey
	pc        *webrtc.PeerConnection
	stream    *domain.MediaStream
	tracks    []*RemoteTrack
	createdAt time.Time
}

// Ingest terminates the connection each user publishes media on. It is the
// server side stand-in for local devices: GetUserMedia returns the tracks a
// user has published, and Hangup closes the connection.
type Ingest struct {
	cfg IngestConfig
	api *webrtc.API

	mu         sync.Mutex
	publishers map[publisherKey]*publisher
	changed    chan struct{}
	listener   StreamListener

	logger *zap.SugaredLogger
}

func NewIngest(cfg IngestConfig, logger *zap.SugaredLogger) *Ingest {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		_ = settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 3 * time.Second
	}

	return &Ingest{
		cfg:        cfg,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		publishers: make(map[publisherKey]*publisher),
		changed:    make(chan struct{}),
		logger:     logger,
	}
}

// OnStream registers the listener for published streams.
func (i *Ingest) OnStream(listener StreamListener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listener = listener
}

// HandleOffer answers a publish offer with receive-only audio and video
// transceivers. A new offer from the same user replaces the old connection.
func (i *Ingest) HandleOffer(ctx context.Context, callID domain.CallID, userID domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	ctx, span := tracing.TraceWebRTC(ctx, "offer", string(callID), string(userID))
	defer span.End()

	key := publisherKey{callID: callID, userID: userID}
	i.closePublisher(key)

	pc, err := i.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   i.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return webrtc.SessionDescription{}, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	pub := &publisher{
		key:       key,
		pc:        pc,
		stream:    domain.NewMediaStream(streamID(key)),
		createdAt: time.Now(),
	}
	pc.OnTrack(i.handleTrack(pub))
	pc.OnConnectionStateChange(i.handleConnectionState(pub))

	answer, err := i.negotiate(ctx, pc, offer)
	if err != nil {
		_ = pc.Close()
		tracing.RecordError(ctx, err)
		return webrtc.SessionDescription{}, err
	}

	i.mu.Lock()
	i.publishers[key] = pub
	i.notifyLocked()
	i.mu.Unlock()

	i.logger.Infow("Publisher connected", "call_id", callID, "user_id", userID)
	return answer, nil
}

func (i *Ingest) negotiate(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *pc.LocalDescription(), nil
}

// handleTrack handles incoming tracks from a publisher
func (i *Ingest) handleTrack(pub *publisher) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.TrackKindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackKindVideo
		}

		i.logger.Infow("Publisher started streaming track",
			"call_id", pub.key.callID,
			"user_id", pub.key.userID,
			"track_id", track.ID(),
			"kind", kind,
			"codec", track.Codec().MimeType,
		)

		rt := NewRemoteTrack(track.ID(), kind, track.Codec().MimeType, uint32(track.SSRC()), func() (*rtp.Packet, error) {
			pkt, _, err := track.ReadRTP()
			return pkt, err
		})
		go rt.Run()
		go i.drainRTCP(receiver)
		if kind == domain.TrackKindVideo {
			go i.requestKeyframes(pub.pc, rt)
		}

		i.addTrack(pub, rt)
	}
}

// addTrack publishes a new stream value containing rt.
func (i *Ingest) addTrack(pub *publisher, rt *RemoteTrack) {
	i.mu.Lock()
	pub.stream = pub.stream.WithTrack(streamID(pub.key), rt)
	pub.tracks = append(pub.tracks, rt)
	stream := pub.stream
	listener := i.listener
	current := i.publishers[pub.key] == pub
	i.notifyLocked()
	i.mu.Unlock()

	if listener != nil && current {
		listener(context.Background(), pub.key.callID, pub.key.userID, stream)
	}
}

// drainRTCP keeps the receiver's interceptors running.
func (i *Ingest) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (i *Ingest) requestKeyframes(pc *webrtc.PeerConnection, rt *RemoteTrack) {
	ticker := time.NewTicker(i.cfg.KeyframeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.Done():
			return
		case <-ticker.C:
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: rt.SSRC()}}); err != nil {
				return
			}
		}
	}
}

// handleConnectionState drops publishers whose connection is gone.
func (i *Ingest) handleConnectionState(pub *publisher) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		i.logger.Infow("Publisher connection state changed",
			"call_id", pub.key.callID,
			"user_id", pub.key.userID,
			"connection_state", state,
		)

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			i.mu.Lock()
			if i.publishers[pub.key] == pub {
				delete(i.publishers, pub.key)
				i.notifyLocked()
			}
			i.mu.Unlock()
			stopPublisher(pub)
		}
	}
}

// GetUserMedia waits until the user has published the tracks asked for. If
// ctx ends first, whatever was published so far is returned; with nothing
// published the user is treated as having no device.
func (i *Ingest) GetUserMedia(ctx context.Context, callID domain.CallID, userID domain.UserID, constraints domain.MediaConstraints) (*domain.MediaStream, error) {
	key := publisherKey{callID: callID, userID: userID}

	for {
		i.mu.Lock()
		var stream *domain.MediaStream
		if pub, ok := i.publishers[key]; ok {
			stream = pub.stream
		}
		changed := i.changed
		i.mu.Unlock()

		if satisfies(stream, constraints) {
			return stream, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if len(stream.Tracks()) > 0 {
				return stream, nil
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrNoDevice, ctx.Err())
		}
	}
}

func satisfies(stream *domain.MediaStream, constraints domain.MediaConstraints) bool {
	if stream == nil {
		return false
	}
	if constraints.Audio && len(stream.AudioTracks()) == 0 {
		return false
	}
	if constraints.Video && len(stream.VideoTracks()) == 0 {
		return false
	}
	return len(stream.Tracks()) > 0
}

// Hangup closes the user's connection. Hanging up without a connection is not an error.
func (i *Ingest) Hangup(ctx context.Context, callID domain.CallID, userID domain.UserID) error {
	if pub := i.closePublisher(publisherKey{callID: callID, userID: userID}); pub != nil {
		i.logger.Infow("Publisher hung up", "call_id", callID, "user_id", userID, "connected_for", time.Since(pub.createdAt))
	}
	return nil
}

func (i *Ingest) closePublisher(key publisherKey) *publisher {
	i.mu.Lock()
	pub, ok := i.publishers[key]
	if ok {
		delete(i.publishers, key)
		i.notifyLocked()
	}
	i.mu.Unlock()

	if !ok {
		return nil
	}
	stopPublisher(pub)
	return pub
}

func stopPublisher(pub *publisher) {
	for _, t := range pub.tracks {
		t.Stop()
	}
	if pub.pc != nil {
		_ = pub.pc.Close()
	}
}

// Publishers returns the number of connected publishers.
func (i *Ingest) Publishers() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.publishers)
}

// Close hangs up every publisher.
func (i *Ingest) Close() {
	i.mu.Lock()
	pubs := make([]*publisher, 0, len(i.publishers))
	for key, pub := range i.publishers {
		pubs = append(pubs, pub)
		delete(i.publishers, key)
	}
	i.notifyLocked()
	i.mu.Unlock()

	for _, pub := range pubs {
		stopPublisher(pub)
	}
}

func (i *Ingest) notifyLocked() {
	close(i.changed)
	i.changed = make(chan struct{})
}

func streamID(key publisherKey) string {
	return fmt.Sprintf("%s:%s", key.callID, key.userID)
}
