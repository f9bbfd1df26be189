package webrtc

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bbielsa/interviewcall/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
)

// peer is the subset of a peer connection the room drives.
type peer interface {
	SetOnICECandidate(send func(sdpMid string, sdpMLineIndex int, candidate string))
	CreateOffer() (string, error)
	SetRemoteDescription(sdp domain.SDPPayload) error
	AddRemoteICECandidate(candidate domain.ICECandidatePayload) error
	Close()
}

// Peer wraps a Pion PeerConnection and the app-message DataChannel.
type Peer struct {
	pc            *pion.PeerConnection
	dc            *pion.DataChannel
	remoteDescSet chan struct{}
	remoteOnce    sync.Once
	closed        chan struct{}
	closeOnce     sync.Once
}

// NewPeer creates a PeerConnection with H264/Opus codecs, NACK responses and
// transceivers for the call. Remote video is written to videoSink as an
// Annex B stream when videoSink is non-nil.
func NewPeer(iceServers []string, videoSink io.Writer) (*Peer, error) {
	m := &pion.MediaEngine{}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	if len(iceServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: iceServers})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:            pc,
		remoteDescSet: make(chan struct{}),
		closed:        make(chan struct{}),
	}

	if err := p.addTransceivers(); err != nil {
		pc.Close()
		return nil, err
	}

	dc, err := pc.CreateDataChannel("app-messages", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.dc = dc

	dc.OnOpen(func() {
		logger.Debug("data channel opened")
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		logger.Debug("app message", "data", string(msg.Data))
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		logger.Info("ICE connection state", "state", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		logger.Info("peer connection state", "state", state.String())
	})
	p.setOnTrack(videoSink)

	return p, nil
}

// addTransceivers adds audio (sendrecv) and video (sendrecv) transceivers.
// Local tracks are not attached; remote media is received.
func (p *Peer) addTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	return nil
}

// setOnTrack writes H264 video to videoOut and drains everything else.
func (p *Peer) setOnTrack(videoOut io.Writer) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		logger.Info("remote track", "kind", track.Kind().String(), "codec", codec.MimeType)

		if track.Kind() == pion.RTPCodecTypeVideo && videoOut != nil &&
			strings.EqualFold(codec.MimeType, pion.MimeTypeH264) {
			go readVideoTrack(track, videoOut)
			return
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func readVideoTrack(track *pion.TrackRemote, w io.Writer) {
	startCode := []byte{0x00, 0x00, 0x00, 0x01}
	depack := NewH264Depacketizer()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug("video track closed", "error", err)
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(startCode); err != nil {
				return
			}
			if _, err := w.Write(nalu); err != nil {
				return
			}
		}
	}
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(sdpMid string, sdpMLineIndex int, candidate string)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			logger.Debug("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}

		sdpMid := ""
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		sdpMLineIndex := 0
		if init.SDPMLineIndex != nil {
			sdpMLineIndex = int(*init.SDPMLineIndex)
		}

		send(sdpMid, sdpMLineIndex, init.Candidate)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	return offer.SDP, nil
}

// SetRemoteDescription sets the SDP answer and unblocks remote ICE candidate addition.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.remoteOnce.Do(func() { close(p.remoteDescSet) })
	return nil
}

// AddRemoteICECandidate waits for the remote description to be set, then adds
// the candidate. It gives up once the peer is closed.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	select {
	case <-p.remoteDescSet:
	case <-p.closed:
		return fmt.Errorf("add ice candidate: peer closed")
	}

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.dc != nil {
			p.dc.Close()
		}
		if p.pc != nil {
			p.pc.Close()
		}
	})
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
