package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/shardroute/core/cluster"
)

type TransportConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for endpoint subjects, e.g. "shardroute" -> shardroute.ep.<endpoint>
	// QueueGroup lets several servers share an endpoint. Defaults to "shardroute".
	QueueGroup string
}

// Transport carries envelopes over NATS request/reply. Each endpoint maps to
// one subject.
type Transport struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string
	queue   string

	mu   sync.Mutex
	subs map[*natsgo.Subscription]struct{}

	closed atomic.Bool
}

// responseFrame is the reply encoding. Code is set for handler errors.
type responseFrame struct {
	Data []byte `json:"data,omitempty"`
	Code int    `json:"code,omitempty"`
	Err  string `json:"err,omitempty"`
}

func NewTransport(cfg TransportConfig) (*Transport, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "shardroute"
	}
	queue := cfg.QueueGroup
	if queue == "" {
		queue = "shardroute"
	}

	return &Transport{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("transport", "nats")),
		prefix:  prefix,
		queue:   queue,
		subs:    make(map[*natsgo.Subscription]struct{}),
	}, nil
}

// subject returns the subject of an endpoint. Endpoints are URLs and may
// contain characters that are not valid in subjects.
func (t *Transport) subject(endpoint string) string {
	return t.prefix + ".ep." + base64.RawURLEncoding.EncodeToString([]byte(endpoint))
}

func (t *Transport) Request(ctx context.Context, endpoint string, env cluster.Envelope) ([]byte, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	msg, err := t.nc.RequestWithContext(ctx, t.subject(endpoint), payload)
	if err != nil {
		switch {
		case errors.Is(err, natsgo.ErrNoResponders):
			return nil, &cluster.ConnectionError{Endpoint: endpoint, Err: cluster.ErrConnectionRefused}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, natsgo.ErrTimeout):
			return nil, &cluster.ConnectionError{Endpoint: endpoint, Timeout: true, Err: err}
		default:
			return nil, &cluster.ConnectionError{Endpoint: endpoint, Err: err}
		}
	}

	var rf responseFrame
	if err := json.Unmarshal(msg.Data, &rf); err != nil {
		return nil, &cluster.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rf.Err != "" || rf.Code != 0 {
		return nil, &cluster.RemoteError{Endpoint: endpoint, Code: rf.Code, Message: rf.Err}
	}
	return rf.Data, nil
}

func (t *Transport) Serve(ctx context.Context, endpoint string, h cluster.ServerHandlerFunc) (cluster.Subscription, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}
	log := t.log.With(slog.String("endpoint", endpoint))

	sub, err := t.nc.QueueSubscribe(t.subject(endpoint), t.queue, func(msg *natsgo.Msg) {
		var env cluster.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Error("failed to decode envelope", slog.Any("error", err))
			return
		}

		data, err := h(ctx, env)
		rf := responseFrame{Data: data}
		if err != nil {
			rf.Data = nil
			rf.Err = err.Error()
			rf.Code = 500
			var re *cluster.RemoteError
			if errors.As(err, &re) {
				rf.Code = re.Code
				rf.Err = re.Message
			}
		}
		b, _ := json.Marshal(rf)
		if err := msg.Respond(b); err != nil {
			log.Error("failed to publish reply", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", endpoint, err)
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	s := &subscription{sub: sub, t: t}
	context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	return s, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return cluster.ErrTransportClosed
	}
	t.mu.Lock()
	for s := range t.subs {
		_ = s.Unsubscribe()
	}
	t.subs = map[*natsgo.Subscription]struct{}{}
	t.mu.Unlock()
	if t.nc != nil {
		_ = t.nc.Drain()
		t.closeNc()
	}
	return nil
}

type subscription struct {
	once sync.Once
	sub  *natsgo.Subscription
	t    *Transport
}

func (s *subscription) Unsubscribe() (err error) {
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		s.t.mu.Lock()
		delete(s.t.subs, s.sub)
		s.t.mu.Unlock()
		if errors.Is(err, natsgo.ErrBadSubscription) || errors.Is(err, natsgo.ErrConnectionClosed) {
			err = nil
		}
	})
	return err
}

var _ cluster.Transport = (*Transport)(nil)
