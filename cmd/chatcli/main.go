package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/appointly/chatsync/internal/config"
	"github.com/appointly/chatsync/internal/conn"
	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/history"
	"github.com/appointly/chatsync/internal/log"
	"github.com/appointly/chatsync/internal/session"
	"github.com/appointly/chatsync/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	selfID := flag.Int64("user", 0, "own user id")
	peerID := flag.Int64("peer", 0, "conversation partner user id")
	staticToken := flag.String("token", "", "static auth token (skips the token endpoint)")
	flag.Parse()

	if *selfID == 0 || *peerID == 0 {
		return fmt.Errorf("both -user and -peer are required")
	}

	bootLogger := log.New("info")
	cfg, _, err := config.Load(bootLogger, *configPath)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetch := tokenFetcher(cfg.APIBaseURL, *selfID, *staticToken)
	tokens := history.NewCachedTokenSource(fetch, cfg.TokenRefreshMargin)

	channel := ws.New(cfg.WSURL, logger)
	manager := conn.NewManager(channel, tokens.Token, logger,
		conn.WithRetryDelay(cfg.RetryDelay),
		conn.WithHealthInterval(cfg.HealthInterval),
	)
	manager.SetStateListener(func(s core.ConnectionState) {
		fmt.Printf("* connection: %s\n", s)
	})
	go manager.Run(ctx)

	hist := history.NewClient(cfg.APIBaseURL, tokens, logger)
	ctrl := session.New(manager, hist, *selfID, *peerID, logger)
	ctrl.SetWarningListener(func(err error) {
		fmt.Printf("* warning: %v\n", err)
	})
	ctrl.SetUpdateListener(func() {
		msgs := ctrl.Messages()
		if len(msgs) == 0 {
			return
		}
		printMessage(*selfID, msgs[len(msgs)-1])
	})

	if err := ctrl.Open(ctx); err != nil {
		fmt.Printf("* history unavailable, type /retry to reload: %v\n", err)
	} else {
		for _, m := range ctrl.Messages() {
			printMessage(*selfID, m)
		}
		if len(ctrl.Messages()) == 0 {
			fmt.Println("* no messages yet, say hello")
		}
	}
	defer ctrl.Close()
	defer manager.Disconnect()

	fmt.Println("Type a message and press Enter. /file <path> [caption], /retry, /reconnect, /quit.")
	return inputLoop(ctx, ctrl)
}

func inputLoop(ctx context.Context, ctrl *session.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, ctrl, line); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Printf("* send failed: %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(ctx context.Context, ctrl *session.Controller, line string) error {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return nil
	case text == "/quit":
		return errQuit
	case text == "/reconnect":
		ctrl.Reconnect(ctx)
		return nil
	case text == "/retry":
		if err := ctrl.RetryHistory(ctx); err != nil {
			fmt.Printf("* history still unavailable: %v\n", err)
		}
		return nil
	case strings.HasPrefix(text, "/file "):
		rest := strings.TrimSpace(strings.TrimPrefix(text, "/file "))
		path, caption, _ := strings.Cut(rest, " ")
		return ctrl.Send(ctx, caption, path, func(n int64) {
			fmt.Printf("\r* uploading %d bytes", n)
		})
	default:
		return ctrl.Send(ctx, text, "", nil)
	}
}

func printMessage(selfID int64, m core.Message) {
	who := "them"
	if m.SenderID == selfID {
		who = "me"
		if core.IsPendingID(m.ID) {
			who = "me (sending)"
		}
	}
	line := fmt.Sprintf("[%s] %s: %s", m.SentTime.Format("15:04:05"), who, m.Content)
	for _, a := range m.Attachments {
		line += fmt.Sprintf(" [%s %s]", a.Kind, a.URL)
	}
	fmt.Println(line)
}

// tokenFetcher returns a FetchFunc for the dev token endpoint, or a static
// token passthrough when one was supplied on the command line.
func tokenFetcher(apiBase string, userID int64, static string) history.FetchFunc {
	if static != "" {
		return func(context.Context) (string, error) { return static, nil }
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]int64{"user_id": userID})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/api/token", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token endpoint: status %d", resp.StatusCode)
		}

		var payload struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", err
		}
		return payload.Token, nil
	}
}
