// Command chatcli is a terminal chat client built on the sync engine. It
// resolves the local user against the directory service, connects to the
// push broker, and exposes a small command language on stdin:
//
//	/rooms            list the user's rooms
//	/room <id>        activate a room
//	/edit <id> <txt>  edit a message
//	/typing           signal started-typing for the active room
//	/quit             exit
//
// Any other input line is sent as a message to the active room.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/parley/chat-client/internal/chat"
	"github.com/parley/chat-client/internal/engine"
	"github.com/parley/chat-client/internal/metrics"
	"github.com/parley/chat-client/internal/registry"
	"github.com/parley/chat-client/internal/rest"
	"github.com/parley/chat-client/internal/roomcache"
	"github.com/parley/chat-client/internal/transport"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	apiURL := "http://localhost:8080/api"
	if v := os.Getenv("API_URL"); v != "" {
		apiURL = v
	}
	username := os.Getenv("CHAT_USERNAME")
	if username == "" {
		log.Fatalf("CHAT_USERNAME is required")
	}

	engineCfg := engine.DefaultConfig()
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			engineCfg.HistoryLimit = n
		}
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			engineCfg.FetchTimeout = d
		}
	}
	if v := os.Getenv("TYPING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			engineCfg.TypingInterval = d
		}
	}

	// --- Transport ---
	var channel transport.Channel
	switch os.Getenv("BROKER") {
	case "", "nats":
		natsCfg := transport.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsCfg.URL = v
		}
		channel = transport.NewNATSChannel(natsCfg)
		log.Printf("chat client starting (broker=nats url=%s)", natsCfg.URL)
	case "ws":
		wsCfg := transport.DefaultWSConfig()
		if v := os.Getenv("WS_URL"); v != "" {
			wsCfg.URL = v
		}
		channel = transport.NewWSChannel(wsCfg)
		log.Printf("chat client starting (broker=ws url=%s)", wsCfg.URL)
	default:
		log.Fatalf("unknown BROKER %q (want nats or ws)", os.Getenv("BROKER"))
	}

	// --- Room cache ---
	var rooms roomcache.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc, err := roomcache.NewRedis(addr, 0)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer rc.Close()
		rooms = rc
	} else {
		rooms = roomcache.NewMemory(0)
	}

	// --- Identity ---
	api := rest.NewClient(apiURL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	self, err := api.UserByUsername(ctx, username)
	cancel()
	if err != nil {
		log.Fatalf("failed to resolve user %q: %v", username, err)
	}
	log.Printf("logged in as %s (id=%d)", self.Username, self.ID)

	// --- Engine ---
	store := chat.NewTimelineStore(chat.DefaultTimelineConfig())
	reg := registry.New(channel, registry.DefaultConfig())
	eng := engine.New(channel, api, store, reg, rooms, *self, engineCfg)

	eng.OnTimelineChanged(func(roomID int64) {
		if roomID == eng.ActiveRoom() {
			printTimeline(eng, roomID)
		}
	})
	eng.OnTyping(func(sig chat.TypingSignal) {
		if sig.Username == self.Username {
			return
		}
		if sig.Typing {
			fmt.Printf("  * %s is typing...\n", sig.Username)
		}
	})
	eng.OnPresence(func(u chat.User) {
		fmt.Printf("  * user %d is now %s\n", u.ID, u.Status)
	})
	eng.OnError(func(err error) {
		log.Printf("[chatcli] sync error: %v", err)
	})

	if err := eng.Connect(context.Background()); err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer eng.Close()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if err := eng.SetStatus(context.Background(), chat.StatusOnline); err != nil {
		log.Printf("[chatcli] set status: %v", err)
	}

	runLoop(eng)

	if err := eng.SetStatus(context.Background(), chat.StatusOffline); err != nil {
		log.Printf("[chatcli] set status: %v", err)
	}
}

func runLoop(eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("ready. /rooms to list rooms, /room <id> to join, /quit to exit.")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/rooms":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			rooms, err := eng.Rooms(ctx)
			cancel()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			for _, r := range rooms {
				fmt.Printf("  [%d] %s (%s, %d members)\n", r.ID, r.Name, r.Kind, len(r.Members))
			}

		case strings.HasPrefix(line, "/room "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/room ")), 10, 64)
			if err != nil {
				fmt.Println("usage: /room <id>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = eng.ActivateRoom(ctx, id)
			cancel()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			printTimeline(eng, id)

		case strings.HasPrefix(line, "/edit "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /edit <message-id> <new text>")
				continue
			}
			id, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				fmt.Println("usage: /edit <message-id> <new text>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = eng.EditMessage(ctx, eng.ActiveRoom(), id, parts[1])
			cancel()
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case line == "/typing":
			eng.NotifyTyping(eng.ActiveRoom(), true)

		default:
			eng.NotifyTyping(eng.ActiveRoom(), false)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := eng.SendMessage(ctx, line, chat.TypeText)
			cancel()
			if err != nil {
				fmt.Printf("send failed (kept as retryable): %v\n", err)
			}
		}
	}
}

func printTimeline(eng *engine.Engine, roomID int64) {
	for _, m := range eng.Timeline(roomID) {
		marker := ""
		switch m.State {
		case chat.DeliveryPending:
			marker = " (sending...)"
		case chat.DeliveryFailed:
			marker = " (FAILED - retry available)"
		}
		edited := ""
		if m.Edited {
			edited = " (edited)"
		}
		fmt.Printf("  %s %s: %s%s%s\n", m.Timestamp.Format("15:04:05"), m.SenderUsername, m.Content, edited, marker)
	}
}
