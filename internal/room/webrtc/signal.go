package webrtc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"github.com/gorilla/websocket"
)

// Signaling methods.
const (
	methodJoin              = "JOIN"
	methodJoined            = "JOINED"
	methodParticipantJoined = "PARTICIPANT_JOINED"
	methodParticipantLeft   = "PARTICIPANT_LEFT"
	methodSDPOffer          = "SDP_OFFER"
	methodSDPAnswer         = "SDP_ANSWER"
	methodICECandidate      = "ICE_CANDIDATE"
	methodTrackState        = "TRACK_STATE"
	methodLeave             = "LEAVE"
	methodError             = "ERROR"
)

// message is the signaling WebSocket message envelope. SDP and ICE payloads
// are base64-encoded JSON.
type message struct {
	Method        string   `json:"method"`
	ParticipantID string   `json:"participantId,omitempty"`
	Name          string   `json:"name,omitempty"`
	Participants  []string `json:"participants,omitempty"`
	Payload       string   `json:"payload,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
	Code          *int     `json:"code,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// signalHandler receives dispatched signaling messages.
type signalHandler interface {
	OnJoined(participants []string)
	OnParticipantJoined(id string)
	OnParticipantLeft(id string)
	OnParticipantTrackState(id, kind string, enabled bool)
	OnSDPAnswer(sdp domain.SDPPayload)
	OnRemoteICECandidate(candidate domain.ICECandidatePayload)
	OnSignalError(err error)
	OnDisconnect(err error)
}

var errSignalClosed = errors.New("signaling connection closed")

// signalClient manages the WebSocket connection to the room's signaling server.
type signalClient struct {
	conn          *websocket.Conn
	participantID string
	handler       signalHandler
	pingInterval  time.Duration

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// dialSignal dials the signaling WebSocket and starts the read and ping loops.
func dialSignal(ctx context.Context, rawURL, participantID string, handler signalHandler, pingInterval time.Duration) (*signalClient, error) {
	logger.InfoContext(ctx, "connecting to signaling server", "url", rawURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &signalClient{
		conn:          conn,
		participantID: participantID,
		handler:       handler,
		pingInterval:  pingInterval,
		closed:        make(chan struct{}),
	}

	go c.readLoop()
	if pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// Close shuts down the WebSocket connection.
func (c *signalClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *signalClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *signalClient) sendJSON(msg message) error {
	if c.isClosed() {
		return errSignalClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	logger.Debug("signal >>>", "method", msg.Method)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Method, err)
	}
	return nil
}

func (c *signalClient) sendJoin(name string) error {
	return c.sendJSON(message{
		Method:        methodJoin,
		ParticipantID: c.participantID,
		Name:          name,
	})
}

func (c *signalClient) sendSDPOffer(sdp string) error {
	payload, err := encodePayload(domain.SDPPayload{Type: "offer", SDP: sdp})
	if err != nil {
		return err
	}
	return c.sendJSON(message{
		Method:        methodSDPOffer,
		ParticipantID: c.participantID,
		Payload:       payload,
	})
}

func (c *signalClient) sendICECandidate(sdpMid string, sdpMLineIndex int, candidate string) error {
	payload, err := encodePayload(domain.ICECandidatePayload{
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
		Candidate:     candidate,
	})
	if err != nil {
		return err
	}
	return c.sendJSON(message{
		Method:        methodICECandidate,
		ParticipantID: c.participantID,
		Payload:       payload,
	})
}

func (c *signalClient) sendTrackState(kind domain.TrackKind, enabled bool) error {
	return c.sendJSON(message{
		Method:        methodTrackState,
		ParticipantID: c.participantID,
		Kind:          string(kind),
		Enabled:       &enabled,
	})
}

func (c *signalClient) sendLeave() error {
	return c.sendJSON(message{
		Method:        methodLeave,
		ParticipantID: c.participantID,
	})
}

func (c *signalClient) readLoop() {
	var readErr error
	defer func() {
		wasClosed := c.isClosed()
		c.Close()
		if !wasClosed {
			c.handler.OnDisconnect(readErr)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				logger.Warn("signal read error", "error", err)
			}
			readErr = err
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("signal unmarshal error", "error", err)
			continue
		}
		logger.Debug("signal <<<", "method", msg.Method)

		c.dispatch(msg)
	}
}

func (c *signalClient) dispatch(msg message) {
	switch msg.Method {
	case methodJoined:
		c.handler.OnJoined(msg.Participants)

	case methodParticipantJoined:
		if msg.ParticipantID != c.participantID {
			c.handler.OnParticipantJoined(msg.ParticipantID)
		}

	case methodParticipantLeft:
		if msg.ParticipantID != c.participantID {
			c.handler.OnParticipantLeft(msg.ParticipantID)
		}

	case methodTrackState:
		if msg.Enabled != nil && msg.ParticipantID != c.participantID {
			c.handler.OnParticipantTrackState(msg.ParticipantID, msg.Kind, *msg.Enabled)
		}

	case methodSDPAnswer:
		var sdp domain.SDPPayload
		if err := decodePayload(msg.Payload, &sdp); err != nil {
			logger.Warn("decode SDP answer", "error", err)
			return
		}
		c.handler.OnSDPAnswer(sdp)

	case methodICECandidate:
		var candidate domain.ICECandidatePayload
		if err := decodePayload(msg.Payload, &candidate); err != nil {
			logger.Warn("decode ICE candidate", "error", err)
			return
		}
		c.handler.OnRemoteICECandidate(candidate)

	case methodError:
		code := -1
		if msg.Code != nil {
			code = *msg.Code
		}
		c.handler.OnSignalError(fmt.Errorf("signaling error %d: %s", code, msg.Message))

	default:
		logger.Debug("unhandled signaling method", "method", msg.Method)
	}
}

func (c *signalClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() {
					logger.Warn("signal ping error", "error", err)
				}
				return
			}
		}
	}
}

func encodePayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodePayload(encoded string, v any) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return json.Unmarshal(data, v)
}
