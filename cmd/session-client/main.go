package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZentaChain/zentalk-session/pkg/api"
	"github.com/ZentaChain/zentalk-session/pkg/network"
	"github.com/ZentaChain/zentalk-session/pkg/push"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

const (
	defaultRelayAddr = "127.0.0.1:8080"
	defaultDataDir   = "./data"
	defaultAPIAddr   = "127.0.0.1:9090"
)

var (
	relayAddr    = flag.String("relay", defaultRelayAddr, "Relay address to connect to")
	dataDir      = flag.String("data", defaultDataDir, "Data directory for identity and database")
	displayName  = flag.String("name", "", "Display name shared during key exchange (required)")
	passphrase   = flag.String("passphrase", "", "Passphrase protecting the local database (required)")
	apiAddr      = flag.String("api", defaultAPIAddr, "Local control API listen address")
	enableAPI    = flag.Bool("api-enabled", true, "Serve the local control API")
	pushGateway  = flag.String("push", "", "Push gateway base URL (empty disables push)")
	pushToken    = flag.String("push-token", "", "Device push token")
	pushPlatform = flag.String("push-platform", "generic", "Device platform for push routing")
)

func main() {
	flag.Parse()

	printBanner()

	// Validate required flags
	if *displayName == "" {
		log.Fatal("Error: -name flag is required (your display name)")
	}
	if *passphrase == "" {
		log.Fatal("Error: -passphrase flag is required (protects the local database)")
	}

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Load or create the session identity
	identity, err := network.LoadOrCreateIdentity(*dataDir)
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}
	log.Printf("✓ Session identity %s", identity.SessionID)

	// Open the encrypted local database
	dbPath := fmt.Sprintf("%s/session.db", *dataDir)
	db, err := storage.Open(dbPath, *passphrase)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	log.Printf("✓ Database opened at %s", dbPath)

	// Wire the session components
	client := network.NewClient(network.DefaultConfig(*relayAddr), identity, db)
	exchange := network.NewExchangeEngine(client, *displayName)
	tracker := network.NewDeliveryTracker(client)
	presence := network.NewPresenceCoordinator(client)

	exchange.OnRequest(func(ex *network.Exchange) {
		log.Printf("🔔 Key exchange request from %s (phrase: %s) — accept or decline via the API", ex.CounterpartID, ex.RequestPhrase)
	})
	tracker.OnMessage(func(msg *network.Message) {
		log.Printf("📨 %s: %s", msg.From, msg.Body)
	})
	presence.OnTyping(func(state network.TypingState) {
		if state.IsTyping {
			log.Printf("⌨️  %s is typing in %s", state.FromUser, state.ConversationID)
		}
	})

	// Push gateway registration
	var registrar push.Registrar = push.NoopRegistrar{}
	if *pushGateway != "" {
		if *pushToken == "" {
			log.Fatal("Error: -push-token is required when -push is set")
		}
		registrar = push.NewHTTPRegistrar(*pushGateway)
	}

	client.OnStateChange(func(state network.ConnState) {
		if state != network.StateReady {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := registrar.Register(ctx, &push.Registration{
			SessionID: identity.SessionID,
			Token:     *pushToken,
			Platform:  *pushPlatform,
		})
		if err != nil {
			log.Printf("⚠️  Push registration failed: %v", err)
		}
	})

	// Local control API
	if *enableAPI {
		server := api.NewServer(client, exchange, tracker, presence)
		go func() {
			if err := server.Run(*apiAddr); err != nil {
				log.Fatalf("API server failed: %v", err)
			}
		}()
		log.Printf("✓ Control API listening on http://%s", *apiAddr)
	}

	// Connect; a failed first dial keeps retrying with backoff
	if err := client.Connect(); err != nil {
		log.Printf("⚠️  Initial connect failed, retrying: %v", err)
	}

	waitForShutdown(client, db)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║           Zentalk Session Client v1.0            ║")
	fmt.Println("║     End-to-end encrypted chat over a relay       ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func waitForShutdown(client *network.Client, db *storage.DB) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	if err := client.Disconnect(); err != nil {
		log.Printf("⚠️  Disconnect failed: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("⚠️  Database close failed: %v", err)
	}

	log.Println("✓ Shutdown complete")
}
