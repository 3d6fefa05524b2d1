package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"greenearth/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIngest() *Ingest {
	return NewIngest(IngestConfig{}, zap.NewNop().Sugar())
}

// register adds a connection-less publisher the way HandleOffer would.
func register(in *Ingest, callID domain.CallID, userID domain.UserID) *publisher {
	key := publisherKey{callID: callID, userID: userID}
	pub := &publisher{key: key, stream: domain.NewMediaStream(streamID(key)), createdAt: time.Now()}
	in.mu.Lock()
	in.publishers[key] = pub
	in.notifyLocked()
	in.mu.Unlock()
	return pub
}

func TestIngest_GetUserMediaWaitsForRequestedKinds(t *testing.T) {
	in := newTestIngest()
	pub := register(in, "c1", "u1")

	type result struct {
		stream *domain.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := in.GetUserMedia(context.Background(), "c1", "u1", domain.MediaConstraints{Audio: true, Video: true})
		done <- result{s, err}
	}()

	in.addTrack(pub, NewRemoteTrack("a", domain.TrackKindAudio, "audio/opus", 1, nil))
	select {
	case <-done:
		t.Fatal("returned before the video track arrived")
	case <-time.After(50 * time.Millisecond):
	}

	in.addTrack(pub, NewRemoteTrack("v", domain.TrackKindVideo, "video/VP8", 2, nil))
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Len(t, r.stream.AudioTracks(), 1)
		assert.Len(t, r.stream.VideoTracks(), 1)
	case <-time.After(time.Second):
		t.Fatal("GetUserMedia did not return")
	}
}

func TestIngest_GetUserMediaTimeout(t *testing.T) {
	in := newTestIngest()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := in.GetUserMedia(ctx, "c1", "nobody", domain.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrNoDevice)

	pub := register(in, "c1", "audio-only")
	in.addTrack(pub, NewRemoteTrack("a", domain.TrackKindAudio, "audio/opus", 1, nil))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	stream, err := in.GetUserMedia(ctx2, "c1", "audio-only", domain.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err, "partial media beats no media")
	assert.Len(t, stream.AudioTracks(), 1)
}

func TestIngest_ListenerAndHangup(t *testing.T) {
	in := newTestIngest()
	var mu sync.Mutex
	var published []*domain.MediaStream
	in.OnStream(func(ctx context.Context, callID domain.CallID, userID domain.UserID, stream *domain.MediaStream) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, stream)
	})

	pub := register(in, "c1", "u1")
	track := NewRemoteTrack("a", domain.TrackKindAudio, "audio/opus", 1, nil)
	in.addTrack(pub, track)

	mu.Lock()
	require.Len(t, published, 1)
	assert.Equal(t, "c1:u1", published[0].ID())
	mu.Unlock()

	require.NoError(t, in.Hangup(context.Background(), "c1", "u1"))
	assert.Equal(t, 0, in.Publishers())
	select {
	case <-track.Done():
	default:
		t.Fatal("hangup must stop the user's tracks")
	}
	assert.NoError(t, in.Hangup(context.Background(), "c1", "u1"))
}

func TestIngest_HandleOfferAnswersRecvOnly(t *testing.T) {
	in := newTestIngest()
	defer in.Close()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "client")
	require.NoError(t, err)
	_, err = client.AddTrack(audio)
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(client)
	require.NoError(t, client.SetLocalDescription(offer))
	<-gathered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	answer, err := in.HandleOffer(ctx, "c1", "u1", *client.LocalDescription())
	require.NoError(t, err)

	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "a=recvonly")
	require.NoError(t, client.SetRemoteDescription(answer))
	assert.Equal(t, 1, in.Publishers())
}
