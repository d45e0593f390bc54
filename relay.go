package bouncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bobg/go-generics/slices"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bouncer/queue"
)

// Event is the payload a Talk installation publishes for a new or flagged
// comment. The embedded comment copy may be stale; the relay always fetches
// the comment fresh before deciding anything.
type Event struct {
	Data           EventData `json:"data"`
	InstallID      string    `json:"install_id"`
	HandshakeToken string    `json:"handshake_token"`
}

type EventData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Asset  Asset  `json:"asset"`
	User   Author `json:"user"`
	Source string `json:"source"`
}

// Relay consumes installation events and fans them out to Slack. It owns an
// explicit consumer handle (no ambient subscription state) and a bounded
// pool of workers, so backpressure is the channel filling up.
type Relay struct {
	Service  *Service
	Consumer *queue.Consumer
	Workers  int
}

func (r *Relay) Run(ctx context.Context) error {
	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}

	ch := make(chan queue.Message)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				r.handle(ctx, msg)
			}
		}()
	}
	defer func() {
		close(ch)
		wg.Wait()
	}()

	r.Service.Logger.Info().Int("workers", workers).Msg("relay started")

	for {
		msgs, err := r.Consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Service.Logger.Error().Err(err).Msg("error reading from stream")
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			select {
			case ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handle turns ProcessEvent's outcome into an ack or nack. Every message
// terminates in exactly one of the two; a panic counts as a nack.
func (r *Relay) handle(ctx context.Context, msg queue.Message) {
	err := r.processSafe(ctx, msg)
	if err != nil {
		r.Service.Logger.Error().Err(err).Str("message_id", msg.ID).Msg("event processing failed")
		if nerr := r.Consumer.Nack(ctx, msg, err.Error()); nerr != nil {
			r.Service.Logger.Error().Err(nerr).Str("message_id", msg.ID).Msg("could not nack message")
		}
		return
	}
	if aerr := r.Consumer.Ack(ctx, msg); aerr != nil {
		r.Service.Logger.Error().Err(aerr).Str("message_id", msg.ID).Msg("could not ack message")
	}
}

func (r *Relay) processSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Service.ProcessEvent(ctx, msg)
}

// ProcessEvent runs one event through the relay pipeline. A nil return
// means the message is done (including every unrecoverable dead end:
// malformed payloads, missing or disabled entities, empty resolution).
// A non-nil return means a remote call failed and the message should be
// redelivered. Redelivery may repost messages that already reached Slack;
// that is the accepted cost of at-least-once delivery.
func (s *Service) ProcessEvent(ctx context.Context, msg queue.Message) error {
	lg := s.Logger.With().Str("message_id", msg.ID).Logger()
	lg.Debug().Msg("got event message")

	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		lg.Error().Err(err).Msg("could not parse the event payload")
		return nil
	}
	if event.Data.ID == "" || event.InstallID == "" {
		lg.Error().Msg("event payload missing comment or installation id")
		return nil
	}

	lg = lg.With().
		Str("comment_id", event.Data.ID).
		Str("installation_id", event.InstallID).
		Logger()

	installation, err := s.Installations.ByID(ctx, event.InstallID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Msg("could not find the installation referenced")
		return nil
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the installation")
		return nil
	}
	if installation.Disabled {
		lg.Info().Msg("installation disabled, suppressing event")
		return nil
	}

	team, err := s.Teams.ByID(ctx, installation.TeamID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Str("team_id", installation.TeamID).Msg("could not find the team referenced")
		return nil
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the team")
		return nil
	}
	if team.Disabled {
		lg.Info().Str("team_id", team.ID).Msg("team disabled, suppressing event")
		return nil
	}

	// The installation may be temporarily unreachable; a failure here is
	// the retryable path.
	comment, err := s.Talk.GetComment(ctx, installation, event.HandshakeToken, event.Data.ID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Msg("comment no longer exists on the installation")
		return nil
	} else if err != nil {
		return errors.Wrap(err, "fetching comment from installation")
	}

	candidates, err := s.Configurations.ByInstallation(ctx, installation.ID)
	if err != nil {
		lg.Error().Err(err).Msg("could not load configurations")
		return nil
	}

	configurations, err := ResolveConfigurations(candidates, comment, event.Data.Source)
	if errors.Is(err, ErrInvalidSource) {
		lg.Error().Str("source", event.Data.Source).Msg("event has an invalid source")
		return nil
	} else if err != nil {
		lg.Error().Err(err).Msg("could not resolve configurations")
		return nil
	}
	if len(configurations) == 0 {
		lg.Debug().Msg("no configurations to send the message to")
		return nil
	}

	userIDs, _ := slices.Map(configurations, func(_ int, c *Configuration) (string, error) {
		return c.AddedBy, nil
	})
	users, err := s.Users.ByIDs(ctx, userIDs)
	if err != nil {
		lg.Error().Err(err).Msg("could not load configuration creators")
		return nil
	}
	if len(users) == 0 {
		lg.Error().Msg("no users found for the selected configurations")
		return nil
	}
	usersByID := make(map[string]*User, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	message, err := InteractiveMessage(comment, installation, event.HandshakeToken)
	if err != nil {
		lg.Error().Err(err).Msg("could not build the interactive message")
		return nil
	}

	// One message per configuration, posted concurrently, joined before the
	// ack/nack decision. A single failure nacks the whole event.
	g, gctx := errgroup.WithContext(ctx)
	for _, configuration := range configurations {
		configuration := configuration
		user, ok := usersByID[configuration.AddedBy]
		if !ok {
			lg.Warn().
				Str("configuration_id", configuration.ID).
				Str("user_id", configuration.AddedBy).
				Msg("configuration creator not found, skipping channel")
			continue
		}
		g.Go(func() error {
			timestamp, err := s.Chat.PostMessage(gctx, user.AccessToken, configuration.ChannelID, message)
			if err != nil {
				return errors.Wrapf(err, "posting to channel %s", configuration.ChannelID)
			}
			lg.Debug().
				Str("channel_id", configuration.ChannelID).
				Str("slack_ts", timestamp).
				Msg("posted interactive message")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lg.Debug().Msg("successfully processed the event")
	return nil
}
