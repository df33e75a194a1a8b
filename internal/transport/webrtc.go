package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/rtcerr"
	"go.uber.org/zap"
)

// dataChannelLabel names the single ordered channel the initiator opens.
const dataChannelLabel = "data"

// ICEConfig holds the STUN/TURN servers used during candidate gathering.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from plain server URLs.
func ICEConfigFromURLs(urls []string) ICEConfig {
	var filtered []string
	for _, u := range urls {
		if u != "" {
			filtered = append(filtered, u)
		}
	}
	if len(filtered) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{Servers: []webrtc.ICEServer{{URLs: filtered}}}
}

// NewWebRTCFactory returns a Factory backed by pion PeerConnections with
// trickle ICE and one data channel per peer.
func NewWebRTCFactory(ice ICEConfig, log *zap.Logger) Factory {
	return func(remoteID string, opts Options, h Handler) (Transport, error) {
		return newWebRTCPeer(ice, remoteID, opts, h, log.With(zap.String("peer", remoteID)))
	}
}

// Compile-time interface check.
var _ Transport = (*webrtcPeer)(nil)

type webrtcPeer struct {
	pc        *webrtc.PeerConnection
	initiator bool
	h         Handler
	log       *zap.Logger

	mu               sync.Mutex
	dc               *webrtc.DataChannel
	remoteCandidates []webrtc.ICECandidateInit // buffered until a remote description exists
	destroyed        bool
	connectOnce      sync.Once
	closeOnce        sync.Once
}

func newWebRTCPeer(ice ICEConfig, remoteID string, opts Options, h Handler, log *zap.Logger) (*webrtcPeer, error) {
	// Loopback candidates keep same-machine sessions and tests working.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ice.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	p := &webrtcPeer{
		pc:        pc,
		initiator: opts.Initiator,
		h:         h,
		log:       log,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		h.HandleSignal(Signal{
			Type: KindCandidate,
			Candidate: &Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			},
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("connection state change", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed:
			h.HandleError(errors.New("peer connection failed"))
			p.emitClose()
		case webrtc.PeerConnectionStateClosed:
			p.emitClose()
		}
	})

	if !opts.Initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			p.attach(dc)
		})
		return p, nil
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	p.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	h.HandleSignal(Signal{Type: KindOffer, SDP: offer.SDP})
	return p, nil
}

func (p *webrtcPeer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.connectOnce.Do(p.h.HandleConnect)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.h.HandleData(msg.Data)
	})
	dc.OnClose(p.emitClose)
}

func (p *webrtcPeer) emitClose() {
	p.closeOnce.Do(p.h.HandleClose)
}

func (p *webrtcPeer) Initiator() bool {
	return p.initiator
}

func (p *webrtcPeer) Signal(s Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}

	switch s.Kind() {
	case KindOffer:
		if state := p.pc.SignalingState(); state != webrtc.SignalingStateStable {
			return fmt.Errorf("%w: offer received in signaling state %s", ErrInvalidState, state)
		}
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}); err != nil {
			return classify(err)
		}
		if err := p.flushCandidates(); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return classify(err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return classify(err)
		}
		p.h.HandleSignal(Signal{Type: KindAnswer, SDP: answer.SDP})
		return nil

	case KindAnswer:
		if state := p.pc.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("%w: answer received in signaling state %s", ErrInvalidState, state)
		}
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}); err != nil {
			return classify(err)
		}
		return p.flushCandidates()

	case KindCandidate:
		if s.Candidate == nil {
			return fmt.Errorf("candidate signal without candidate")
		}
		init := webrtc.ICECandidateInit{
			Candidate:        s.Candidate.Candidate,
			SDPMid:           s.Candidate.SDPMid,
			SDPMLineIndex:    s.Candidate.SDPMLineIndex,
			UsernameFragment: s.Candidate.UsernameFragment,
		}
		if p.pc.RemoteDescription() == nil {
			p.remoteCandidates = append(p.remoteCandidates, init)
			return nil
		}
		return classify(p.pc.AddICECandidate(init))

	default:
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
}

// flushCandidates applies candidates that arrived before the remote
// description. Caller holds p.mu.
func (p *webrtcPeer) flushCandidates() error {
	pending := p.remoteCandidates
	p.remoteCandidates = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (p *webrtcPeer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	return dc.Send(data)
}

func (p *webrtcPeer) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.mu.Unlock()
	return p.pc.Close()
}

// classify maps pion's state errors onto ErrInvalidState.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stateErr *rtcerr.InvalidStateError
	if errors.As(err, &stateErr) {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}
