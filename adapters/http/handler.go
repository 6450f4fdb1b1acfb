package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"strings"

	"github.com/codewandler/shardroute/core/cluster"
)

type NodeHandlerOptions struct {
	Cores   []string
	Handler cluster.CoreHandlerFunc
	// Admin serves every path that does not start with a hosted core.
	Admin cluster.ServerHandlerFunc
	Log   *slog.Logger
}

// NewNodeHandler exposes cores over HTTP the way Transport addresses them:
// /<core>/<path> for core requests, anything else for the node itself.
func NewNodeHandler(opts NodeHandlerOptions) nethttp.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	cores := make(map[string]struct{}, len(opts.Cores))
	for _, c := range opts.Cores {
		cores[c] = struct{}{}
	}

	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &cluster.RemoteError{Code: nethttp.StatusBadRequest, Message: err.Error()})
			return
		}
		env := cluster.Envelope{
			Method:      r.Method,
			Params:      r.URL.Query(),
			ContentType: r.Header.Get("Content-Type"),
			Data:        data,
		}
		if id := r.Header.Get(cluster.HeaderRequestID); id != "" {
			env.ID = id
			env.Headers = map[string]string{cluster.HeaderRequestID: id}
		}

		var out []byte
		core, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if _, ok := cores[core]; ok && opts.Handler != nil {
			env.Path = "/" + rest
			out, err = opts.Handler(r.Context(), core, env)
		} else if opts.Admin != nil {
			env.Path = r.URL.Path
			out, err = opts.Admin(r.Context(), env)
		} else {
			err = &cluster.RemoteError{Code: nethttp.StatusNotFound, Message: "no such core: " + core}
		}
		if err != nil {
			log.Debug("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	})
}

func writeError(w nethttp.ResponseWriter, err error) {
	code := nethttp.StatusInternalServerError
	msg := err.Error()
	var re *cluster.RemoteError
	if errors.As(err, &re) {
		code, msg = re.Code, re.Message
	}
	var eb errorBody
	eb.Error.Code = code
	eb.Error.Msg = msg
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(eb)
}
