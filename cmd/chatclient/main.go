// Command chatclient is a terminal client for the chat WebSocket endpoint.
// Lines typed on stdin are sent as questions; "/personality <name>" and
// "/context <name>" change the session preferences.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Rrens/intel-chat/internal/protocol"
	"github.com/Rrens/intel-chat/internal/transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("url", "ws://localhost:8080/api/v1/ws", "chat WebSocket URL")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "JWT access token")
	sessionID := flag.String("session", "", "session id to resume")
	attempts := flag.Int("attempts", 10, "reconnect attempts before giving up, 0 for unlimited")
	debug := flag.Bool("debug", false, "log connection state changes")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *token == "" {
		log.Fatal().Msg("a token is required (-token or CHAT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := transport.NewClient(transport.ClientConfig{
		URL:         withSession(*addr, *sessionID),
		Header:      http.Header{"Authorization": []string{"Bearer " + *token}},
		MaxAttempts: *attempts,
	})

	go func() {
		for ev := range client.States() {
			log.Debug().Str("state", string(ev.State)).Int("attempt", ev.Attempt).Dur("delay", ev.Delay).Err(ev.Err).Msg("connection")
		}
	}()

	go func() {
		for data := range client.Frames() {
			out, err := protocol.DecodeOutbound(data)
			if err != nil {
				log.Warn().Err(err).Msg("unreadable frame")
				continue
			}
			if c, ok := out.(protocol.Connected); ok {
				// resume this session after a reconnect
				client.SetURL(withSession(*addr, c.SessionID))
			}
			render(out)
		}
	}()

	go readInput(ctx, client)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("connection lost")
	}
}

func readInput(ctx context.Context, client *transport.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg protocol.Inbound
		switch {
		case strings.HasPrefix(line, "/personality "):
			msg = protocol.PersonalityChange{Personality: strings.TrimSpace(strings.TrimPrefix(line, "/personality "))}
		case strings.HasPrefix(line, "/context "):
			msg = protocol.ContextChange{SearchContext: strings.TrimSpace(strings.TrimPrefix(line, "/context "))}
		default:
			msg = protocol.ChatMessage{Message: line}
		}

		data, err := protocol.Encode(msg)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode message")
			continue
		}
		if err := client.Send(ctx, data); err != nil {
			return
		}
	}
}

func render(out protocol.Outbound) {
	switch m := out.(type) {
	case protocol.Connected:
		fmt.Printf("connected  session=%s personality=%s context=%s\n", m.SessionID, m.Personality, m.SearchContext)
	case protocol.Typing:
		if m.IsTyping {
			fmt.Println("...")
		}
	case protocol.Response:
		fmt.Printf("\n%s\n", m.Data.Content)
		for i, s := range m.Data.Sources {
			fmt.Printf("  [%d] %s (%s, %.2f) %s\n", i+1, s.Title, s.Origin, s.RelevanceScore, s.URL)
		}
		for _, a := range m.Data.SuggestedActions {
			fmt.Printf("  -> %s\n", a)
		}
		if md := m.Data.Metadata; md != nil {
			fmt.Printf("  confidence=%.2f quality=%.2f %dms\n\n", md.ConfidenceScore, md.SynthesisQuality, md.SearchTimeMs)
		}
	case protocol.Error:
		fmt.Printf("error %s: %s\n", m.Code, m.Message)
	}
}

func withSession(addr, sessionID string) string {
	if sessionID == "" {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}
