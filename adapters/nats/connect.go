package nats

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares one connection between all callers of the returned
// Connector. The connection is closed when the last lease is released.
func ReuseConnection(connect Connector) Connector {
	var mu sync.Mutex
	var nc *natsgo.Conn
	var closeCon closeFunc
	var leased atomic.Int64
	var weakClose closeFunc = func() {
		mu.Lock()
		defer mu.Unlock()
		if leased.Add(-1) == 0 {
			closeCon()
			nc = nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			nc, closeCon, err = connect()
			if err != nil {
				return nil, nil, err
			}
		}
		leased.Add(1)
		return nc, weakClose, nil
	}
}

func ConnectURL(natsURL string) Connector {
	return ConnectEnsemble([]string{natsURL}, nil)
}

// ConnectEnsemble connects to any server of an ensemble. Connection state
// changes are logged to log when it is set.
func ConnectEnsemble(addrs []string, log *slog.Logger) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		opts := []natsgo.Option{
			natsgo.Name("shardroute"),
			natsgo.MaxReconnects(3),
		}
		if log != nil {
			opts = append(opts,
				natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
					log.Warn("ensemble disconnected", slog.Any("error", err))
				}),
				natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
					log.Info("ensemble reconnected", slog.String("url", nc.ConnectedUrl()))
				}),
			)
		}
		nc, err := natsgo.Connect(strings.Join(addrs, ","), opts...)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
