package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ipcVersion = 1

	cmdDispatch    = "DISPATCH"
	cmdSetActivity = "SET_ACTIVITY"
	evtReady       = "READY"
	evtError       = "ERROR"
)

// ErrUnsupportedPlatform is returned where no IPC transport exists
var ErrUnsupportedPlatform = errors.New("discord ipc is not supported on this platform")

// Dialer opens the raw IPC connection
type Dialer func(ctx context.Context) (net.Conn, error)

// Client is a domain.Sink speaking the Discord local IPC protocol
type Client struct {
	logger *zap.Logger
	dial   Dialer
	pid    int
}

// NewClient creates a client that discovers the IPC socket on connect
func NewClient(logger *zap.Logger) *Client {
	return NewClientWithDialer(logger, dialIPC)
}

// NewClientWithDialer creates a client that uses dial instead of socket discovery
func NewClientWithDialer(logger *zap.Logger, dial Dialer) *Client {
	return &Client{logger: logger, dial: dial, pid: os.Getpid()}
}

type handshake struct {
	Version  int    `json:"v"`
	ClientID string `json:"client_id"`
}

type command struct {
	Cmd   string       `json:"cmd"`
	Args  activityArgs `json:"args"`
	Nonce string       `json:"nonce"`
}

type activityArgs struct {
	PID      int       `json:"pid"`
	Activity *activity `json:"activity,omitempty"`
}

type activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *timestamps `json:"timestamps,omitempty"`
	Assets     *assets     `json:"assets,omitempty"`
	Buttons    []button    `json:"buttons,omitempty"`
}

type timestamps struct {
	Start int64 `json:"start,omitempty"`
}

type assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type response struct {
	Cmd   string          `json:"cmd"`
	Evt   string          `json:"evt"`
	Nonce string          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Connect performs the handshake and waits for READY
func (c *Client) Connect(ctx context.Context, appID string) (domain.Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, &domain.ConnectError{AppID: appID, Err: err}
	}

	s := &session{logger: c.logger, conn: conn, pid: c.pid}
	if err := s.handshake(ctx, appID); err != nil {
		conn.Close()
		return nil, &domain.ConnectError{AppID: appID, Err: err}
	}

	c.logger.Info("IPC session established", zap.String("appID", appID))
	return s, nil
}

// session is one open IPC connection. Commands are serialized; each waits
// for the response carrying its nonce.
type session struct {
	logger *zap.Logger
	conn   net.Conn
	pid    int

	mu     sync.Mutex
	closed bool
}

func (s *session) handshake(ctx context.Context, appID string) error {
	defer s.applyDeadline(ctx)()

	payload, err := json.Marshal(handshake{Version: ipcVersion, ClientID: appID})
	if err != nil {
		return err
	}
	if err := writeFrame(s.conn, OpHandshake, payload); err != nil {
		return err
	}

	for {
		resp, err := s.readResponse()
		if err != nil {
			return err
		}
		if resp.Cmd == cmdDispatch && resp.Evt == evtReady {
			return nil
		}
		if resp.Evt == evtError {
			return decodeError(resp.Data)
		}
		s.logger.Debug("Ignoring frame during handshake",
			zap.String("cmd", resp.Cmd),
			zap.String("evt", resp.Evt))
	}
}

// Publish sends SET_ACTIVITY with the full presence
func (s *session) Publish(ctx context.Context, state domain.PresenceState) error {
	if err := state.Validate(); err != nil {
		return &domain.PublishError{Op: "publish", Err: err}
	}
	return s.setActivity(ctx, "publish", toActivity(state))
}

// Clear sends SET_ACTIVITY without an activity
func (s *session) Clear(ctx context.Context) error {
	return s.setActivity(ctx, "clear", nil)
}

// Close sends a close frame and releases the socket
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = writeFrame(s.conn, OpClose, []byte("{}"))
	return s.conn.Close()
}

func (s *session) setActivity(ctx context.Context, op string, act *activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.PublishError{Op: op, Err: domain.ErrSessionClosed}
	}
	defer s.applyDeadline(ctx)()

	nonce := uuid.NewString()
	payload, err := json.Marshal(command{
		Cmd:   cmdSetActivity,
		Args:  activityArgs{PID: s.pid, Activity: act},
		Nonce: nonce,
	})
	if err != nil {
		return &domain.PublishError{Op: op, Err: err}
	}

	if err := writeFrame(s.conn, OpFrame, payload); err != nil {
		return &domain.PublishError{Op: op, Err: err}
	}

	for {
		resp, err := s.readResponse()
		if err != nil {
			return &domain.PublishError{Op: op, Err: err}
		}
		if resp.Nonce != nonce {
			continue
		}
		if resp.Evt == evtError {
			var ed errorData
			_ = json.Unmarshal(resp.Data, &ed)
			return &domain.PublishError{Op: op, Code: ed.Code, Message: ed.Message}
		}
		return nil
	}
}

// readResponse returns the next FRAME payload, answering pings on the way.
// A CLOSE frame or a hung-up socket marks the session closed.
func (s *session) readResponse() (response, error) {
	for {
		op, payload, err := readFrame(s.conn)
		if err != nil {
			if hungUp(err) {
				s.markClosed()
				return response{}, fmt.Errorf("%w: %v", domain.ErrSessionClosed, err)
			}
			return response{}, err
		}

		switch op {
		case OpFrame:
			var resp response
			if err := json.Unmarshal(payload, &resp); err != nil {
				return response{}, fmt.Errorf("decode frame: %w", err)
			}
			return resp, nil
		case OpPing:
			if err := writeFrame(s.conn, OpPong, payload); err != nil {
				return response{}, err
			}
		case OpClose:
			s.markClosed()
			var ed errorData
			if json.Unmarshal(payload, &ed) == nil && ed.Message != "" {
				return response{}, fmt.Errorf("%w: %s (%d)", domain.ErrSessionClosed, ed.Message, ed.Code)
			}
			return response{}, domain.ErrSessionClosed
		default:
			s.logger.Debug("Ignoring unexpected frame", zap.Stringer("op", op))
		}
	}
}

func (s *session) markClosed() {
	s.closed = true
	_ = s.conn.Close()
}

// hungUp reports whether a read failed because the peer went away
func hungUp(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// applyDeadline copies the context deadline onto the socket and returns
// the function that clears it
func (s *session) applyDeadline(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	_ = s.conn.SetDeadline(deadline)
	return func() { _ = s.conn.SetDeadline(time.Time{}) }
}

func decodeError(data json.RawMessage) error {
	var ed errorData
	if err := json.Unmarshal(data, &ed); err != nil || ed.Message == "" {
		return errors.New("handshake rejected")
	}
	return fmt.Errorf("handshake rejected (%d): %s", ed.Code, ed.Message)
}

func toActivity(state domain.PresenceState) *activity {
	act := &activity{
		Details: state.Details,
		State:   state.State,
	}
	if state.Start != nil {
		act.Timestamps = &timestamps{Start: state.Start.Unix()}
	}
	if state.LargeImageKey != "" || state.LargeImageText != "" || state.SmallImageKey != "" || state.SmallImageText != "" {
		act.Assets = &assets{
			LargeImage: state.LargeImageKey,
			LargeText:  state.LargeImageText,
			SmallImage: state.SmallImageKey,
			SmallText:  state.SmallImageText,
		}
	}
	for _, b := range state.Buttons {
		act.Buttons = append(act.Buttons, button{Label: b.Label, URL: b.URL})
	}
	return act
}
