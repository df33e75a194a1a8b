package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/rtcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chanHandler forwards transport events onto channels.
type chanHandler struct {
	signals  chan Signal
	connects chan struct{}
	data     chan []byte
	errs     chan error
	closes   chan struct{}
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		signals:  make(chan Signal, 128),
		connects: make(chan struct{}, 1),
		data:     make(chan []byte, 16),
		errs:     make(chan error, 4),
		closes:   make(chan struct{}, 1),
	}
}

func (h *chanHandler) HandleSignal(s Signal) { h.signals <- s }
func (h *chanHandler) HandleConnect()        { h.connects <- struct{}{} }
func (h *chanHandler) HandleData(b []byte)   { h.data <- b }
func (h *chanHandler) HandleError(err error) { h.errs <- err }
func (h *chanHandler) HandleClose()          { h.closes <- struct{}{} }

func TestSignalKind(t *testing.T) {
	var s Signal
	require.NoError(t, json.Unmarshal([]byte(`{"candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}}`), &s))
	assert.Equal(t, KindCandidate, s.Kind())

	s, err := DecodeSignal(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	require.NoError(t, err)
	assert.Equal(t, KindOffer, s.Kind())

	_, err = DecodeSignal(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))

	err := classify(&rtcerr.InvalidStateError{Err: errors.New("wrong state")})
	assert.ErrorIs(t, err, ErrInvalidState)

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, classify(plain))
}

func TestICEConfigFromURLs(t *testing.T) {
	assert.Empty(t, ICEConfigFromURLs([]string{""}).Servers)
	cfg := ICEConfigFromURLs([]string{"stun:a", "", "stun:b"})
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, []string{"stun:a", "stun:b"}, cfg.Servers[0].URLs)
}

func TestWebRTCPeer_AnswerInStableStateIsInvalid(t *testing.T) {
	factory := NewWebRTCFactory(ICEConfig{}, zap.NewNop())
	tr, err := factory("remote", Options{Initiator: false}, newChanHandler())
	require.NoError(t, err)
	defer tr.Destroy()

	err = tr.Signal(Signal{Type: KindAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWebRTCPeer_OfferWhileOfferingIsInvalid(t *testing.T) {
	factory := NewWebRTCFactory(ICEConfig{}, zap.NewNop())
	h := newChanHandler()
	tr, err := factory("remote", Options{Initiator: true}, h)
	require.NoError(t, err)
	defer tr.Destroy()
	assert.True(t, tr.Initiator())

	// Candidates may be gathered before the offer is reported.
	var offer Signal
	for offer.Kind() != KindOffer {
		select {
		case offer = <-h.signals:
		case <-time.After(5 * time.Second):
			t.Fatal("no offer emitted")
		}
	}

	err = tr.Signal(Signal{Type: KindOffer, SDP: offer.SDP})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWebRTCPeer_DestroyIsIdempotent(t *testing.T) {
	factory := NewWebRTCFactory(ICEConfig{}, zap.NewNop())
	tr, err := factory("remote", Options{Initiator: true}, newChanHandler())
	require.NoError(t, err)

	require.NoError(t, tr.Destroy())
	require.NoError(t, tr.Destroy())
	assert.ErrorIs(t, tr.Signal(Signal{Type: KindAnswer}), ErrDestroyed)
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrDestroyed)
}

// TestWebRTCPeer_Loopback connects two pion transports in-process by pumping
// their signals into each other and verifies data flows both ways.
func TestWebRTCPeer_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback ICE test in short mode")
	}
	factory := NewWebRTCFactory(ICEConfig{}, zap.NewNop())

	hA, hB := newChanHandler(), newChanHandler()
	a, err := factory("b", Options{Initiator: true}, hA)
	require.NoError(t, err)
	defer a.Destroy()
	b, err := factory("a", Options{Initiator: false}, hB)
	require.NoError(t, err)
	defer b.Destroy()

	done := make(chan struct{})
	defer close(done)
	pump := func(from *chanHandler, to Transport) {
		for {
			select {
			case s := <-from.signals:
				if err := to.Signal(s); err != nil {
					t.Logf("apply %s: %v", s.Kind(), err)
				}
			case <-done:
				return
			}
		}
	}
	go pump(hA, b)
	go pump(hB, a)

	for _, h := range []*chanHandler{hA, hB} {
		select {
		case <-h.connects:
		case <-time.After(20 * time.Second):
			t.Fatal("transport did not connect")
		}
	}

	require.NoError(t, a.Send([]byte("ping")))
	select {
	case got := <-hB.data:
		assert.Equal(t, "ping", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no data received")
	}
}
