package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"

	"arbiter/cmd/internal/ids"
	v1 "arbiter/contracts/realtime/v1"
)

func newEnvelope(typ string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return v1.Envelope{}, err
		}
		raw = b
	}
	return v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: now, Payload: raw}, nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, fmt.Errorf("%w: unsupported message type %v", errBadFrame, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

var errBadFrame = errors.New("realtime: bad frame")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, errBadFrame):
		return readErrBadFrame
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
