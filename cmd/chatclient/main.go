package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loventia/internal/entity"
	"loventia/pkg/chatclient"
	"loventia/pkg/jwt"
	"loventia/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatclient:", err)
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "ws://localhost:8080/ws", "gateway websocket url")
	token := flag.String("token", "", "identity token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "mint a token for -user with this secret when -token is empty")
	userId := flag.String("user", "", "your user id")
	peerId := flag.String("peer", "", "user id to chat with")
	logLevel := flag.String("log-level", "warn", "zerolog level")
	flag.Parse()

	if *userId == "" || *peerId == "" {
		return errors.New("-user and -peer are required")
	}

	if *token == "" {
		if *secret == "" {
			return errors.New("either -token or -secret is required")
		}
		minted, err := jwt.NewJWTManager(*secret, 24*time.Hour).GenerateAccessToken(entity.Identity{UserId: *userId})
		if err != nil {
			return err
		}
		*token = minted
	}

	log := logger.NewWithWriter(true, *logLevel, os.Stderr)
	return chat(*url, *token, *userId, *peerId, log)
}

func chat(url, token, userId, peerId string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := chatclient.New(chatclient.Options{
		URL:    url,
		Token:  token,
		Logger: &log,
	})

	room := entity.ConversationId(userId, peerId)

	manager.OnStatus(func(status chatclient.Status) {
		fmt.Printf("* %s\n", status)
		if status == chatclient.StatusConnected {
			// Memberships do not survive a reconnect.
			manager.JoinRoom(room)
		}
		if status == chatclient.StatusUnauthorized || status == chatclient.StatusFailed {
			stop()
		}
	})
	manager.OnMessage(func(message entity.Message) {
		if message.SenderId == peerId {
			fmt.Printf("[%s] %s: %s\n", message.CreatedAt.Local().Format(time.Kitchen), message.SenderId, message.Text)
		}
	})
	manager.OnAck(func(ack chatclient.Ack) {
		if !ack.OK() {
			fmt.Printf("! not sent (%s): %s\n", ack.Reason, ack.Error)
		}
	})

	if err := manager.Connect(ctx); err != nil {
		return err
	}
	defer manager.Disconnect()

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
			if manager.Status() == chatclient.StatusUnauthorized {
				return chatclient.ErrUnauthorized
			}
			if manager.Status() == chatclient.StatusFailed {
				return chatclient.ErrReconnectExhausted
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if !manager.Send(room, text, uuid.NewString()) {
				fmt.Println("! offline, message dropped")
			}
		}
	}
}
