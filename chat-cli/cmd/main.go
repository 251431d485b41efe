package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/weiawesome/club-chat/pkg/chatclient"
	"github.com/weiawesome/club-chat/pkg/log"
)

const visibleRows = 20

func main() {
	flags := pflag.NewFlagSet("chat-cli", pflag.ExitOnError)
	flags.String("server", "http://localhost:8088", "chat-service base URL")
	flags.String("ws", "ws://localhost:8088/chat/ws", "realtime endpoint")
	flags.String("token", "", "bearer token")
	flags.String("conversation", "", "conversation id (players may omit it and pass -area)")
	flags.String("area", "", "area to open as a player when no conversation id is given")
	flags.Int("page-size", 20, "messages per page")
	flags.Bool("debug", false, "verbose logging")
	flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("chat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindPFlags(flags)

	level := "warn"
	if v.GetBool("debug") {
		level = "debug"
	}
	log.Init(log.Config{Level: level, Pretty: true, ServiceName: "chat-cli", Output: os.Stderr})
	l := log.L()

	token := v.GetString("token")
	if token == "" {
		l.Fatal().Msg("a token is required (-token or CHAT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := chatclient.NewAPI(v.GetString("server"), token)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	feed, err := chatclient.DialFeed(dialCtx, v.GetString("ws"), token)
	cancel()
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to realtime endpoint")
	}
	defer feed.Close()

	conversationID := v.GetString("conversation")
	if conversationID == "" {
		if feed.Class() != chatclient.SenderPlayer {
			l.Fatal().Msg("professionals must pass -conversation")
		}
		conv, err := api.CreateConversation(ctx, v.GetString("area"))
		if err != nil {
			l.Fatal().Err(err).Msg("failed to open conversation")
		}
		conversationID = conv.ID
	}

	session, err := chatclient.OpenSession(ctx, api, feed, conversationID, feed.Class(), chatclient.SessionOptions{
		PageSize: v.GetInt("page-size"),
	})
	if err != nil {
		l.Fatal().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to open session")
	}
	defer session.Close()

	summary := session.Conversation()
	fmt.Printf("conversation %s (%s) with %s\n", summary.ID, summary.Area, counterpart(summary))
	fmt.Println("type a message and press enter; /older loads history, /retry resends failed messages, /quit exits")
	render(session.Snapshot())

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
			return
		case <-feed.Done():
			l.Error().Msg("realtime connection lost")
			return
		case <-session.Changes():
			render(session.Snapshot())
		case err := <-session.Errors():
			l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("session error")
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, session, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, session *chatclient.Session, line string) bool {
	l := log.L()

	switch line {
	case "":
	case "/quit":
		return true
	case "/older":
		if !session.HasOlder() {
			fmt.Println("-- no older messages --")
			return false
		}
		n, err := session.LoadOlder(ctx)
		if err != nil {
			l.Warn().Err(err).Msg("failed to load older messages")
			return false
		}
		fmt.Printf("-- loaded %d older messages --\n", n)
		render(session.Snapshot())
	case "/retry":
		for _, e := range session.Snapshot() {
			if e.State != chatclient.StateFailed {
				continue
			}
			if err := session.Retry(e.LocalID); err != nil {
				l.Warn().Err(err).Str("local_id", e.LocalID).Msg("retry failed")
			}
		}
	default:
		if _, err := session.Submit(line); err != nil && !errors.Is(err, chatclient.ErrEmptyMessage) {
			l.Warn().Err(err).Msg("failed to send message")
		}
	}
	return false
}

func render(entries []chatclient.Entry) {
	if len(entries) > visibleRows {
		entries = entries[len(entries)-visibleRows:]
	}

	fmt.Println(strings.Repeat("-", 40))
	for _, e := range entries {
		m := e.Message
		ts := "--:--"
		if !m.CreatedAt.IsZero() {
			ts = m.CreatedAt.Local().Format("15:04")
		}

		var mark string
		switch e.State {
		case chatclient.StatePending:
			mark = " (sending)"
		case chatclient.StateFailed:
			mark = " (failed, /retry)"
		default:
			if m.Read {
				mark = " ✓"
			}
		}
		fmt.Printf("%s [%s] %s%s\n", ts, m.SenderClass, m.Content, mark)
	}
}

func counterpart(c chatclient.ConversationSummary) string {
	if c.CounterpartName != "" {
		return c.CounterpartName
	}
	return "the club staff"
}
