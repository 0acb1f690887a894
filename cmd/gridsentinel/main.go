// Command gridsentinel runs the grid-trading engine: loads secrets and the
// per-symbol configuration document, constructs the venue client and its
// collaborators, and drives the Supervisor loop until interrupted.
//
// Grounded on main.go's top-level wiring style (construct every service
// once, serve /healthz alongside the main loop, handle SIGINT gracefully).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridsentinel/internal/book"
	"gridsentinel/internal/config"
	"gridsentinel/internal/engine"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/venue"
)

func main() {
	secretsPath := flag.String("secrets", "secrets.env", "path to the secrets document")
	configPath := flag.String("config", "config.yaml", "path to the per-symbol config document")
	bookDir := flag.String("book-dir", "data", "directory for per-symbol order book files")
	metricsAddr := flag.String("metrics-addr", ":8081", "address to serve /metrics and /healthz on")
	streamHost := flag.String("stream-host", "fstream.binance.com", "combined-stream websocket host")
	flag.Parse()

	secrets, err := config.LoadSecrets(*secretsPath)
	if err != nil {
		log.Fatalf("gridsentinel: %v", err)
	}

	store, err := book.NewStore(*bookDir)
	if err != nil {
		log.Fatalf("gridsentinel: %v", err)
	}

	client := venue.NewClient(secrets.APIKey, secrets.APISecret, secrets.Testnet)
	notifier := notify.NewFromEnv()

	doc, err := config.LoadDocument(*configPath)
	if err != nil {
		log.Fatalf("gridsentinel: %v", err)
	}
	symbols := make([]string, 0, len(doc.CryptoSettings))
	for sym := range doc.CryptoSettings {
		symbols = append(symbols, sym)
	}

	feed := venue.NewPriceFeed()
	client.SetPriceFeed(feed)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(symbols) > 0 {
		subscriber := venue.NewSubscriber(*streamHost, symbols, feed)
		go subscriber.Run(ctx)
	}

	eng := engine.New(*configPath, client, store, notifier)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("gridsentinel: metrics server stopped: %v", err)
		}
	}()

	log.Printf("gridsentinel: starting, tracking symbols: %s", strings.Join(symbols, ", "))
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("gridsentinel: supervisor stopped: %v", err)
	}
	log.Println("gridsentinel: shut down")
}
