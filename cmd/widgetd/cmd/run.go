package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hoverchat/widget-engine/internal/arbiter"
	"github.com/hoverchat/widget-engine/internal/backend"
	"github.com/hoverchat/widget-engine/internal/cache"
	"github.com/hoverchat/widget-engine/internal/channel"
	"github.com/hoverchat/widget-engine/internal/config"
	"github.com/hoverchat/widget-engine/internal/events"
	"github.com/hoverchat/widget-engine/internal/message"
	"github.com/hoverchat/widget-engine/internal/session"
)

var (
	runUserID         string
	runBotID          string
	runConversationID int
	runRole           string
	runAPIBase        string
	runSocketURL      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive widget session",
	Long: `Run opens a session against the configured backend and bridges it to
the terminal: typed lines are sent as messages, transcript and lifecycle
changes are printed as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(debug)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyRunFlags(cfg)
		return runSession(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runUserID, "user", "", "User id (defaults to a generated id)")
	runCmd.Flags().StringVar(&runBotID, "bot", "", "Bot id")
	runCmd.Flags().IntVar(&runConversationID, "conversation", 0, "Resume an explicit conversation id")
	runCmd.Flags().StringVar(&runRole, "role", "desktop", "Device role (desktop or mobile)")
	runCmd.Flags().StringVar(&runAPIBase, "api", "", "Backend API base URL")
	runCmd.Flags().StringVar(&runSocketURL, "socket", "", "Realtime websocket URL")
}

func applyRunFlags(cfg *config.Config) {
	if runBotID != "" {
		cfg.Bot.ID = runBotID
	}
	if runAPIBase != "" {
		cfg.API.BaseURL = runAPIBase
	}
	if runSocketURL != "" {
		cfg.API.SocketURL = runSocketURL
	}
}

func runSession(ctx context.Context, cfg *config.Config) error {
	if cfg.API.BaseURL == "" || cfg.API.SocketURL == "" {
		return fmt.Errorf("api.baseUrl and api.socketUrl must be configured (try: widgetd devserver)")
	}
	userID := runUserID
	if userID == "" {
		userID = uuid.NewString()
	}

	store, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}

	client := backend.NewClient(cfg.API.BaseURL)
	broker := events.NewBroker[any]()
	defer broker.Shutdown()

	coord := session.New(session.Options{
		BotID:            cfg.Bot.ID,
		UserID:           userID,
		WidgetInstanceID: "terminal",
		Secret:           cfg.Bot.Secret,
		AuthToken:        cfg.API.AuthToken,
		Role:             arbiter.DeviceRole(runRole),
		Fingerprint:      uuid.NewString(),
		Timers:           cfg.Timers,
		Cache:            store,
		History:          client,
		Conversations:    client,
		Channels:         &channel.WebSocketFactory{URL: cfg.API.SocketURL},
		Broker:           broker,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printEvents(ctx, broker)

	if err := coord.Open(ctx, runConversationID); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	snap := coord.Snapshot()
	log.Info("session open", "conversation", snap.ConversationID, "user", userID)
	fmt.Println("Type a message and press enter. Ctrl-D or Ctrl-C to leave.")

	lines := make(chan string)
	go readLines(lines)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			coord.Close()
			return nil
		case line, ok := <-lines:
			if !ok {
				coord.Close()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				coord.UserActivity()
				continue
			}
			if _, err := coord.Send(ctx, line); err != nil {
				log.Error("send failed", "err", err)
			}
		}
	}
}

func openCache(cfg config.CacheConfig) (*cache.Layered, error) {
	path := cfg.Path
	if !filepath.IsAbs(path) {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	durable, err := cache.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	return cache.NewLayered(cache.NewMemoryStore(), durable, ttl), nil
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// printEvents renders broker traffic for the terminal transcript.
func printEvents(ctx context.Context, broker *events.Broker[any]) {
	ch := broker.Subscribe(ctx)
	for ev := range ch {
		switch ev.Type {
		case events.MessageAppended, events.MessageUpdated:
			msg, ok := ev.Payload.(message.Message)
			if !ok {
				continue
			}
			fmt.Printf("[%s] %s (%s)\n", msg.From, msg.Text, msg.Status)
		case events.SessionWarning:
			log.Warn("session idle, closing soon")
		case events.SessionClosed:
			log.Info("session closed")
		case events.TypingStarted:
			fmt.Println("... bot is typing")
		case events.LockChanged:
			log.Warn("device lock changed", "state", ev.Payload)
		case events.ConnectionStatus:
			log.Debug("connection", "state", ev.Payload)
		case events.ConnectionError:
			log.Error("connection error", "err", ev.Payload)
		case events.SessionStateChanged:
			log.Debug("lifecycle", "state", ev.Payload)
		}
	}
}
