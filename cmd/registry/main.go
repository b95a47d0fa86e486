// Command registry serves the name registry that space servers bind their
// service names in and clients resolve them from.
//
// Configuration:
//   - REGISTRY_LISTEN: Listen address (default: ":8080")
//
// Example usage:
//
//	REGISTRY_LISTEN=:8080 ./registry
//	curl localhost:8080/names
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/tuplespace/internal/naming"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	addr := getenv("REGISTRY_LISTEN", ":8080")

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           naming.NewHandler(naming.NewMemory()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("registry listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("registry stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
