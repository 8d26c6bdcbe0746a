package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-broker/backend/internal/config"
	"github.com/agent-broker/backend/internal/engine"
	"github.com/agent-broker/backend/internal/session"
	"github.com/agent-broker/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use the scripted mock engine instead of a real agent service")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if ep := os.Getenv("ENGINE_ENDPOINT"); ep != "" {
		cfg.Engine.Endpoint = ep
	}

	engineUp := false
	if *mockMode {
		log.Println("Starting in mock mode")
	} else if engine.Probe(cfg.Engine.Endpoint, cfg.Engine.HealthTimeout) {
		engineUp = true
		log.Printf("Agent engine available at %s", cfg.Engine.Endpoint)
	} else {
		log.Printf("Agent engine unreachable at %q, falling back to mock sessions", cfg.Engine.Endpoint)
	}

	registry := session.NewRegistry(session.AdmissionFromString(cfg.Session.Admission))
	controller := session.NewController(registry)
	server := ws.NewServer(cfg, registry, controller, engineUp)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		controller.DestroyAll()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
