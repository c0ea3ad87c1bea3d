// Package client parses relay client flags and runs the interactive
// terminal loop against a relay server.
package client

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/relay.chat/internal/platform/cmd"
	"github.com/louisbranch/relay.chat/internal/services/relay/protocol"
	"github.com/louisbranch/relay.chat/internal/services/relay/session"
	"github.com/louisbranch/relay.chat/internal/services/relay/username"
)

// Config holds relay client configuration.
type Config struct {
	ServerURL string `env:"RELAY_CHAT_SERVER_URL" envDefault:"ws://localhost:8086/ws"`
	Username  string `env:"RELAY_CHAT_USERNAME"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "relay WebSocket endpoint")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "display name to register (prompted when empty)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run connects to the relay and drives the terminal loop until the user
// quits, stdin closes, or the server drops the connection.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceClient, func(context.Context) error {
		return runLoop(ctx, cfg, os.Stdin, os.Stdout)
	})
}

func runLoop(ctx context.Context, cfg Config, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)

	name := strings.TrimSpace(cfg.Username)
	if name != "" {
		validated, err := username.Validate(name)
		if err != nil {
			return fmt.Errorf("username: %w", err)
		}
		name = validated
	} else {
		prompted, err := promptUsername(scanner, output)
		if err != nil {
			return err
		}
		name = prompted
	}

	sess, err := session.New(session.Config{URL: cfg.ServerURL})
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	done := make(chan struct{})
	sess.OnChat(func(msg protocol.ChatMessage) {
		fmt.Fprintf(output, "[%s] %s: %s\n", time.UnixMilli(msg.At).Format("15:04"), msg.Username, msg.Text)
	})
	sess.OnUsersList(func(users []string) {
		fmt.Fprintf(output, "online: %s\n", strings.Join(users, ", "))
	})
	sess.OnUserJoined(func(joined string) {
		fmt.Fprintf(output, "%s joined\n", joined)
	})
	sess.OnUserLeft(func(left string) {
		fmt.Fprintf(output, "%s left\n", left)
	})
	sess.OnServerError(func(serverErr protocol.ServerError) {
		fmt.Fprintf(output, "server error %s\n", serverErr.Error())
	})
	sess.OnDisconnect(func(reason string) {
		fmt.Fprintf(output, "disconnected: %s\n", reason)
		close(done)
	})

	welcome, err := sess.Connect(ctx, name)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("connect relay: %w", err)
	}
	fmt.Fprintf(output, "connected as %s. online: %s\n", welcome.Username, strings.Join(welcome.ConnectedUsers, ", "))

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = sess.Quit()
				sess.Disconnect()
				<-done
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/quit":
				if err := sess.Quit(); err != nil {
					return nil
				}
			case text == "/list":
				if err := sess.RequestUsers(); err != nil && !errors.Is(err, session.ErrNotConnected) {
					fmt.Fprintf(output, "list failed: %v\n", err)
				}
			default:
				if err := sess.Send(text); err != nil && !errors.Is(err, session.ErrNotConnected) {
					fmt.Fprintf(output, "send failed: %v\n", err)
				}
			}
		}
	}
}

func promptUsername(scanner *bufio.Scanner, output io.Writer) (string, error) {
	for {
		fmt.Fprint(output, "username: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read username: %w", err)
			}
			return "", errors.New("no username provided")
		}
		name, err := username.Validate(scanner.Text())
		if err != nil {
			fmt.Fprintf(output, "%v\n", err)
			continue
		}
		return name, nil
	}
}
