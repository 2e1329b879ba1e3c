// Package bridge turns arbitration failures of outbound backend calls into
// typed signals.
package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"arbiter/cmd/internal/arbitration"
)

// maxInspect bounds how much of a failure body is buffered for classification.
const maxInspect = 64 << 10

// Publisher receives classified signals. *arbitration.Bus implements it.
type Publisher interface {
	Publish(arbitration.Signal) int
}

// Transport is an http.RoundTripper that publishes one signal per arbitration
// failure. Responses are always returned to the caller unchanged.
type Transport struct {
	Base      http.RoundTripper
	Publisher Publisher
	Log       *slog.Logger
}

// NewClient returns an *http.Client whose requests go through a Transport.
func NewClient(base http.RoundTripper, pub Publisher, timeout time.Duration, log *slog.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &Transport{Base: base, Publisher: pub, Log: log},
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	head, rerr := io.ReadAll(io.LimitReader(resp.Body, maxInspect))
	resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(head), resp.Body), Closer: resp.Body}
	if rerr != nil {
		return resp, nil
	}

	sig, ok := Classify(resp.StatusCode, head)
	if !ok || t.Publisher == nil {
		return resp, nil
	}
	t.Publisher.Publish(sig)
	t.logger().Info("arbitration.bridge.signal",
		"kind", sig.Label(),
		"status", sig.HTTPStatus,
		"method", req.Method,
		"path", req.URL.Path,
	)
	return resp, nil
}

func (t *Transport) logger() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

type replayBody struct {
	io.Reader
	io.Closer
}

type failureBody struct {
	Code       string `json:"code"`
	ReasonCode string `json:"reason_code"`
	ReasonCC   string `json:"reasonCode"`
	Message    string `json:"message"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

type envelope struct {
	failureBody
	Error json.RawMessage `json:"error"`
}

// Classify maps a 401/403 response body to a signal. The second result is
// false for every failure that is not an arbitration failure.
func Classify(status int, body []byte) (arbitration.Signal, bool) {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return arbitration.Signal{}, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return arbitration.Signal{}, false
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return arbitration.Signal{}, false
	}

	f := env.failureBody
	if raw := bytes.TrimSpace(env.Error); len(raw) > 0 && raw[0] == '{' {
		var nested failureBody
		if err := json.Unmarshal(raw, &nested); err == nil {
			f = nested
		}
	}

	code := firstNonEmpty(f.Code, f.ReasonCode, f.ReasonCC)
	sig := arbitration.Signal{
		HTTPStatus: status,
		Action:     strings.TrimSpace(f.Action),
		Detail:     firstNonEmpty(f.Reason, f.Message),
	}

	switch arbitration.ReasonCode(code) {
	case arbitration.ReasonClosedByOther:
		sig.Reason = arbitration.ReasonClosedByOther
	case arbitration.ReasonSuspended:
		sig.Reason = arbitration.ReasonSuspended
	case arbitration.ReasonSuperseded:
		sig.Reason = arbitration.ReasonSuperseded
	default:
		return arbitration.Signal{}, false
	}
	return sig, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
