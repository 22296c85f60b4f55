// Measure round-trip latency to everything a referee device depends on.
//
// Probes the configured remote store (one fixture read per sample), Redis
// when duplicate claims are enabled, and optionally a running matchday
// server's HTTP and WebSocket endpoints.
//
// Usage:
//
//	go run ./cmd/pingremote -fixture fx-1           # default: 20 samples
//	go run ./cmd/pingremote -fixture fx-1 -n 50
//	go run ./cmd/pingremote -server localhost:8080  # also probe the server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/matchday/internal/adapters/outbound/rediscache"
	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/process"
	"github.com/charleschow/matchday/internal/remote"
)

const probeTimeout = 10 * time.Second

func main() {
	fixture := flag.String("fixture", "", "fixture id to read from the remote store")
	n := flag.Int("n", 20, "samples per target")
	server := flag.String("server", "", "matchday server host:port to probe (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *fixture != "" {
		pingStore(cfg, *fixture, *n)
	}
	if cfg.RedisAddr != "" {
		pingRedis(cfg, *n)
	}
	if *server != "" {
		pingServer(*server, *n)
	}
	fmt.Println()
}

func banner(title string) {
	fmt.Printf("\n%s\n  %s\n%s\n", strings.Repeat("=", 55), title, strings.Repeat("=", 55))
}

// sample runs probe n times after one warm-up call and prints each result.
func sample(n int, label string, probe func(ctx context.Context) error) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	err := probe(ctx)
	cancel()
	if err != nil {
		fmt.Printf("  [!] Warm-up failed: %v\n", err)
		return nil
	}

	latencies := make([]float64, 0, n)
	pad := len(fmt.Sprintf("%d", n))
	for i := 1; i <= n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		start := time.Now()
		err := probe(ctx)
		elapsed := time.Since(start)
		cancel()
		if err != nil {
			fmt.Printf("  [%*d/%d]  FAILED: %v\n", pad, i, n, err)
			continue
		}
		ms := float64(elapsed.Microseconds()) / 1000
		latencies = append(latencies, ms)
		fmt.Printf("  [%*d/%d]  %7.1f ms\n", pad, i, n, ms)
	}
	printStats(latencies, label)
	return latencies
}

func pingStore(cfg *config.Config, fixtureID string, n int) {
	banner(fmt.Sprintf("REMOTE STORE (%s)", cfg.RemoteBackend))
	store, err := process.OpenStore(cfg)
	if err != nil {
		fmt.Printf("  [!] open: %v\n", err)
		return
	}
	defer store.Close()

	sample(n, "fixture read", func(ctx context.Context) error {
		_, err := store.FetchFixture(ctx, fixtureID)
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	})
}

func pingRedis(cfg *config.Config, n int) {
	banner("REDIS " + cfg.RedisAddr)
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	client, err := rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	cancel()
	if err != nil {
		fmt.Printf("  [!] %v\n", err)
		return
	}
	defer client.Close()

	sample(n, "redis PING", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func pingServer(addr string, n int) {
	banner("MATCHDAY " + addr)
	client := &http.Client{Timeout: probeTimeout}
	healthURL := "http://" + addr + "/health"

	fmt.Println("\n  /health:")
	sample(n, "HTTP /health", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	})

	fmt.Println("\n  /ws ping/pong:")
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		fmt.Printf("  [!] WebSocket dial failed: %v\n", err)
		return
	}
	defer conn.Close()

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sample(n, "WebSocket", func(ctx context.Context) error {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return err
		}
		select {
		case <-pongCh:
			return nil
		case <-ctx.Done():
			return errors.New("pong timeout")
		}
	})
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)

	pct := func(p float64) float64 {
		i := int(float64(len(sorted)) * p)
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}

	fmt.Printf("\n  --- %s (%d samples) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  Median: %7.1f ms\n", pct(0.5))
	fmt.Printf("  Stdev:  %7.1f ms\n", math.Sqrt(variance))
	fmt.Printf("  p95:    %7.1f ms\n", pct(0.95))
	fmt.Printf("  p99:    %7.1f ms\n", pct(0.99))
}
