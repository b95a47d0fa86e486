// Command tupled runs one space server. The first server started under a
// name becomes its primary; the next one attaches as backup and takes the
// name over when the primary stops answering.
//
// Configuration (environment wins over the TUPLED_CONFIG YAML file):
//   - TUPLED_CONFIG: Optional YAML settings file
//   - TUPLED_NAME: Service name (default: "tuplespace")
//   - TUPLED_LISTEN: Listen address (default: ":9000")
//   - TUPLED_ADDR: Public address peers and clients use (default: "http://127.0.0.1:9000")
//   - REGISTRY_ADDR: Name registry URL (default: "http://127.0.0.1:8080")
//   - TUPLED_STATE: Tuple file loaded at start and saved at shutdown
//   - TUPLED_POLL_INTERVAL: Backup keep-alive period (default: 2s)
//   - TUPLED_FAILURE_THRESHOLD: Missed keep-alives before failover (default: 1)
//
// Example usage:
//
//	# primary
//	TUPLED_NAME=jobs TUPLED_LISTEN=:9000 TUPLED_ADDR=http://localhost:9000 ./tupled
//	# backup
//	TUPLED_NAME=jobs TUPLED_LISTEN=:9001 TUPLED_ADDR=http://localhost:9001 ./tupled
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/tuplespace/internal/config"
	"github.com/dreamware/tuplespace/internal/naming"
	"github.com/dreamware/tuplespace/internal/replication"
	"github.com/dreamware/tuplespace/internal/server"
	"github.com/dreamware/tuplespace/internal/space"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

const (
	startAttempts = 10
	startDelay    = 400 * time.Millisecond
)

func main() {
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	engine := space.New()
	loadState(engine, cfg.StatePath)

	coord := replication.New(cfg.Replication(), engine, naming.NewHTTPClient(cfg.Registry))
	defer coord.Close()

	// peers may contact us as soon as the name is bound, so listen first
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logFatal("listen: %v", err)
		return
	}
	httpSrv := &http.Server{
		Handler:           server.New(coord, cfg.StatePath),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("tupled %s listening on %s", cfg.Name, ln.Addr())
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logFatal("serve: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	err = start(ctx, coord, startAttempts, startDelay)
	if err != nil {
		cancel()
		_ = httpSrv.Close()
		if ctx.Err() == nil {
			logFatal("start: %v", err)
		}
		return
	}
	<-ctx.Done()

	coord.Close()
	if coord.Role() == replication.RolePrimary && cfg.StatePath != "" {
		if err := engine.Save(cfg.StatePath); err != nil {
			log.Printf("save state: %v", err)
		} else {
			log.Printf("state saved to %s", cfg.StatePath)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		// blocked takes never finish on their own
		_ = httpSrv.Close()
	}
	log.Println("tupled stopped")
}

type starter interface {
	Start(ctx context.Context) error
}

// start brings the coordinator up, retrying while the registry is not
// reachable yet
func start(ctx context.Context, coord starter, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = coord.Start(ctx); err == nil {
			return nil
		}
		log.Printf("start attempt %d failed: %v", i+1, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// loadState seeds the engine from path. A missing file is a fresh start.
func loadState(e *space.Engine, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Printf("no state at %s, starting empty", path)
		return
	}
	if err := e.Load(path); err != nil {
		log.Printf("state not loaded: %v", err)
		return
	}
	log.Printf("state loaded from %s", path)
}
