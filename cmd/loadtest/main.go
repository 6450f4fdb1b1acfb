// Command loadtest measures update dispatch throughput against a simulated
// cluster.
//
// Configure via environment variables:
//
//	N=50000        Total number of documents
//	B=100          Documents per update request
//	R=5000         Documents per progress report
//	SHARDS=8       Number of shards
//	NODES=4        Number of simulated nodes
//	BACKEND=mem    Transport: "mem" or "nats"
//	PARALLEL=true  Send the sub-requests of an update concurrently
//	METRICS_ADDR=  Serve Prometheus metrics on this address, e.g. ":9090"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/shardroute/adapters/nats"
	"github.com/codewandler/shardroute/core/app"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/router"
	"github.com/codewandler/shardroute/core/topology"
)

// === Config ===

// NOTE: the nats backend expects a local server: docker run --net=host nats:latest -js

var (
	logLevel    = slog.LevelInfo
	N           = getEnvInt("N", 50_000)
	batchSize   = getEnvInt("B", 100)
	reportEvery = getEnvInt("R", 5_000)
	numShards   = getEnvInt("SHARDS", 8)
	numNodes    = getEnvInt("NODES", 4)
	backendType = getEnv("BACKEND", "mem")
	parallel    = getEnvBool("PARALLEL", true)
	metricsAddr = getEnv("METRICS_ADDR", "")
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.ToLower(v) == "true"
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	fmt.Printf("Backend:  %s\n", backendType)
	fmt.Printf("Shards:   %d on %d nodes\n", numShards, numNodes)
	fmt.Printf("Parallel: %s\n", strconv.FormatBool(parallel))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	col := topology.NewCollection(topology.CollectionSpec{
		Name:              "loadtest",
		NumShards:         numShards,
		ReplicationFactor: 2,
		Version:           1,
		BaseURL: func(s, r int) string {
			return fmt.Sprintf("mem://node-%d", (s+r)%numNodes)
		},
	})

	var (
		server cluster.ServerTransport
		client cluster.ClientTransport
	)
	switch backendType {
	case "nats":
		connect := nats.ReuseConnection(nats.ConnectDefault())
		tr, err := nats.NewTransport(nats.TransportConfig{Connect: connect, Log: log, SubjectPrefix: "shardroute.loadtest"})
		checkErr(err)
		defer tr.Close()
		server, client = tr, tr
	default:
		tr := cluster.NewInMemoryTransport()
		defer tr.Close()
		server, client = tr, tr
	}

	cores := map[string][]string{}
	for _, s := range col.Shards {
		for _, r := range s.Replicas {
			cores[r.BaseURL] = append(cores[r.BaseURL], r.Core)
		}
	}
	ok := []byte(`{"responseHeader":{"status":0,"QTime":0}}`)
	for base, cs := range cores {
		n := cluster.NewNode(cluster.NodeOptions{
			Log:       log,
			BaseURL:   base,
			Transport: server,
			Cores:     cs,
			Handler: func(ctx context.Context, core string, env cluster.Envelope) ([]byte, error) {
				return ok, nil
			},
		})
		checkErr(n.Run(ctx))
		defer n.Stop()
	}

	var registerer prometheus.Registerer
	if metricsAddr != "" {
		registerer = prometheus.DefaultRegisterer

		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.Handler())
		promServer := &http.Server{Addr: metricsAddr, Handler: promMux}
		go func() {
			log.Info("prometheus metrics server starting", slog.String("addr", metricsAddr))
			if err := promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("prometheus server error", slog.Any("error", err))
			}
		}()
		defer promServer.Shutdown(context.Background())
	}

	a, err := app.New(ctx, app.Config{
		Provider:        topology.NewStaticProvider(col),
		ClientTransport: client,
		ParallelUpdates: &parallel,
		Log:             log,
		Registerer:      registerer,
	})
	checkErr(err)
	defer a.Close()

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		startAt  = time.Now()
		lastTime = startAt
		subReqs  int
		sent     int
	)
	for sent < N {
		docs := make([]router.Document, 0, batchSize)
		for i := 0; i < batchSize && sent < N; i++ {
			docs = append(docs, router.Document{"id": fmt.Sprintf("tenant-%d!doc-%d", sent%97, sent)})
			sent++
		}

		res, err := a.Dispatch(ctx, dispatch.NewUpdate(col.Name, docs...))
		checkErr(err)
		subReqs += res.Succeeded()

		if sent%reportEvery == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %6d docs | %6d ms |  %7d docs/s | (%d / %d) MiB mem (sys) |\n", reportEvery, took.Milliseconds(), int(float64(reportEvery)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	fmt.Printf("  total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("   sub-requests: %d\n", subReqs)
	fmt.Printf("avg. sub/update: %.2f\n", float64(subReqs)/float64((N+batchSize-1)/batchSize))
	fmt.Printf("    avg. docs/s: %d\n", int(float64(N)/took.Seconds()))
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
