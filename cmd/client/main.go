// Headless conference participant. It joins a room, announces an audio
// track, consumes every compatible stream and prints chat to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/demirkiran/cafe/internal/client"
	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
		username = flag.String("username", "misafir", "display name")
		password = flag.String("password", "", "room password")
		room     = flag.String("room", "", "room to join (server default when empty)")
		chat     = flag.String("chat", "", "optional message to send after joining")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ebo := backoff.NewExponentialBackOff()
	ebo.MaxInterval = 30 * time.Second
	ebo.MaxElapsedTime = 0

	for {
		err := backoff.Retry(func() error {
			return runSession(ctx, *url, *username, *password, domain.RoomID(*room), *chat)
		}, backoff.WithContext(ebo, ctx))
		if err != nil {
			// Only ctx expiry escapes the retry loop.
			log.Info().Msg("client exiting")
			return
		}
		ebo.Reset()
	}
}

// runSession drives one connection from dial to drop. A nil return means
// the connection ended after a successful session; the caller redials.
func runSession(ctx context.Context, url, username, password string, room domain.RoomID, chatMsg string) error {
	conn, err := client.Dial(ctx, url, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dial failed, retrying")
		return err
	}
	defer conn.Close()

	dir := client.NewDirectory()
	dir.OnChat(func(msg domain.ChatMessage) {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp, msg.SenderName, msg.Message)
	})
	dir.Subscribe(conn)

	co := client.NewCoordinator(conn)

	conn.On(protocol.EventWelcome, func(data json.RawMessage) {
		log.Info().RawJSON("welcome", data).Msg("connected")
	})
	conn.On(protocol.EventNewProducer, func(data json.RawMessage) {
		go consumeNew(ctx, co, data)
	})

	reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
	defer reqCancel()

	if err := co.Join(reqCtx, username, password, room); err != nil {
		log.Error().Err(err).Msg("join rejected")
		return backoff.Permanent(err)
	}
	if _, err := co.LoadCapabilities(reqCtx); err != nil {
		return err
	}
	if err := co.CreateTransports(reqCtx); err != nil {
		return err
	}
	if _, err := co.ProduceTrack(reqCtx, domain.KindAudio, nil); err != nil {
		log.Warn().Err(err).Msg("produce audio")
	}

	if users, err := co.Users(reqCtx); err == nil {
		dir.Seed(users)
		for _, u := range users {
			log.Info().Str("peer", string(u.ID)).Str("username", u.Username).Msg("in room")
		}
	}
	if producers, err := co.Producers(reqCtx); err == nil {
		for _, p := range producers {
			if res, err := co.ConsumeProducer(reqCtx, p.ID); err == nil && res != nil {
				log.Info().Str("consumer", string(res.ConsumerID)).Str("kind", string(res.Kind)).Msg("consuming")
			}
		}
	}

	if chatMsg != "" {
		if err := co.SendChat(reqCtx, chatMsg, nil); err != nil {
			log.Warn().Err(err).Msg("chat send")
		}
	}

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 3*time.Second)
			co.CloseAll(leaveCtx)
			leaveCancel()
			return backoff.Permanent(ctx.Err())
		case <-conn.Done():
			log.Warn().Msg("connection lost, redialing")
			return nil
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			if res, err := co.Ping(pingCtx); err == nil {
				log.Debug().Int64("ts", res.Timestamp).Msg("pong")
			}
			pingCancel()
		}
	}
}

func consumeNew(ctx context.Context, co *client.Coordinator, data []byte) {
	var ev protocol.NewProducerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := co.ConsumeProducer(reqCtx, ev.ProducerID)
	if err != nil {
		log.Warn().Err(err).Str("producer", string(ev.ProducerID)).Msg("consume")
		return
	}
	if res == nil {
		log.Info().Str("producer", string(ev.ProducerID)).Msg("incompatible stream, skipping")
		return
	}
	log.Info().Str("consumer", string(res.ConsumerID)).Str("kind", string(res.Kind)).Msg("consuming")
}
