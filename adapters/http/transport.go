package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"time"

	"github.com/codewandler/shardroute/core/cluster"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultSocketTimeout  = 120 * time.Second
)

type TransportConfig struct {
	// Client overrides the HTTP client. The timeouts below are ignored then.
	Client *nethttp.Client
	// ConnectTimeout bounds dialing a node.
	ConnectTimeout time.Duration
	// SocketTimeout bounds the wait for response headers and every pause
	// between reads of the response body.
	SocketTimeout time.Duration
	Log           *slog.Logger
}

// Transport sends envelopes as HTTP requests to endpoint + envelope path.
type Transport struct {
	client *nethttp.Client
	log    *slog.Logger
	own     bool
	connect time.Duration
	socket  time.Duration
}

var errSocketTimeout = errors.New("socket timeout")

func NewTransport(cfg TransportConfig) *Transport {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{
		client: cfg.Client,
		log:    log.With(slog.String("transport", "http")),
	}
	if t.client == nil {
		connect := cfg.ConnectTimeout
		if connect <= 0 {
			connect = DefaultConnectTimeout
		}
		socket := cfg.SocketTimeout
		if socket <= 0 {
			socket = DefaultSocketTimeout
		}
		tr := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
		tr.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
		tr.ResponseHeaderTimeout = socket
		t.client = &nethttp.Client{Transport: tr}
		t.own = true
		t.connect = connect
		t.socket = socket
	}
	return t
}

// errorBody is the error form nodes answer with.
type errorBody struct {
	Error struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

func (t *Transport) Request(ctx context.Context, endpoint string, env cluster.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	method := env.Method
	if method == "" {
		method = nethttp.MethodGet
		if len(env.Data) > 0 {
			method = nethttp.MethodPost
		}
	}
	u := endpoint + env.Path
	if len(env.Params) > 0 {
		u += "?" + env.Params.Encode()
	}

	var body io.Reader
	if len(env.Data) > 0 {
		body = bytes.NewReader(env.Data)
	}
	var idle *time.Timer
	if t.socket > 0 {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		idle = time.AfterFunc(t.connect+t.socket, func() { cancel(errSocketTimeout) })
		defer idle.Stop()
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range env.Headers {
		req.Header.Set(k, v)
	}
	if env.ContentType != "" {
		req.Header.Set("Content-Type", env.ContentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.connectionError(ctx, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var r io.Reader = resp.Body
	if idle != nil {
		r = &idleReader{r: resp.Body, timer: idle, d: t.socket}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		// premature close or stalled body
		return nil, t.connectionError(ctx, endpoint, err)
	}

	if resp.StatusCode >= 300 {
		re := &cluster.RemoteError{Endpoint: endpoint, Code: resp.StatusCode, Message: string(data)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Msg != "" {
			re.Message = eb.Error.Msg
		}
		t.log.Debug(
			"error response",
			slog.String("url", u),
			slog.Int("status", resp.StatusCode),
			slog.String("message", re.Message),
		)
		return nil, re
	}
	return data, nil
}

func (t *Transport) Close() error {
	if t.own {
		t.client.CloseIdleConnections()
	}
	return nil
}

func (t *Transport) connectionError(ctx context.Context, endpoint string, err error) error {
	if errors.Is(context.Cause(ctx), errSocketTimeout) {
		err = fmt.Errorf("%w after %s: %w", errSocketTimeout, t.socket, err)
		return &cluster.ConnectionError{Endpoint: endpoint, Timeout: true, Err: err}
	}
	return &cluster.ConnectionError{Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
}

// idleReader pushes the socket deadline out whenever a read makes progress.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.d)
	}
	return n, err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var _ cluster.ClientTransport = (*Transport)(nil)
