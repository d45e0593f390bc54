package bouncer

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bobg/mid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// OnInteractive handles a button click on a relayed message. Slack expects
// a response within a few seconds, so the handler verifies the payload,
// answers 200, and does the real work on a detached goroutine. There is no
// feedback channel on this path: downstream failures are logged, never
// surfaced to the clicking user.
func (s *Service) OnInteractive(w http.ResponseWriter, req *http.Request) error {
	payload := req.FormValue("payload")
	if payload == "" {
		return mid.CodeErr{C: http.StatusBadRequest, Err: errors.New("missing payload field")}
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		return mid.CodeErr{C: http.StatusBadRequest, Err: errors.Wrap(err, "parsing payload")}
	}

	if callback.Token != s.VerificationToken {
		return mid.CodeErr{C: http.StatusUnauthorized, Err: errors.New("could not verify slack token")}
	}

	w.WriteHeader(http.StatusOK)

	go s.handleInteraction(context.WithoutCancel(req.Context()), callback)

	return nil
}

// handleInteraction mutates the comment first, then rewrites the Slack
// message. The moderation action is the action of record; the message is
// only a view of it, so a failed rewrite leaves a stale view rather than a
// lost action.
func (s *Service) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	token, err := DecodeCallbackToken(callback.CallbackID)
	if err != nil {
		s.Logger.Error().Err(err).Msg("could not decode the callback token")
		return
	}

	lg := s.Logger.With().
		Str("comment_id", token.CommentID).
		Str("installation_id", token.InstallationID).
		Str("message_id", callback.OriginalMessage.Timestamp).
		Logger()
	lg.Debug().Msg("got an interactive message from slack")

	installation, err := s.Installations.ByID(ctx, token.InstallationID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Msg("could not find the installation referenced")
		return
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the installation")
		return
	}
	if installation.Disabled {
		lg.Info().Msg("installation disabled, refusing to process the interactive callback")
		return
	}

	team, err := s.Teams.ByID(ctx, installation.TeamID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Str("team_id", installation.TeamID).Msg("could not find the team referenced")
		return
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the team")
		return
	}
	if team.Disabled {
		lg.Info().Str("team_id", team.ID).Msg("team disabled, refusing to process the interactive callback")
		return
	}

	configuration, err := s.Configurations.ByTeamChannel(ctx, team.ID, callback.Channel.ID)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Str("channel_id", callback.Channel.ID).Msg("could not find the configuration referenced")
		return
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the configuration")
		return
	}
	if configuration.Disabled {
		lg.Info().Msg("configuration disabled, refusing to process the interactive callback")
		return
	}

	user, err := s.Users.ByID(ctx, configuration.AddedBy)
	if errors.Is(err, ErrNotFound) {
		lg.Error().Str("user_id", configuration.AddedBy).Msg("could not find the user referenced")
		return
	} else if err != nil {
		lg.Error().Err(err).Msg("could not load the user")
		return
	}

	message := callback.OriginalMessage
	ok := s.applyActions(ctx, lg, installation, token, callback, &message)
	if !ok {
		return
	}

	timestamp, err := s.Chat.UpdateMessage(ctx, user.AccessToken, callback.Channel.ID, ChatMessage{
		Timestamp:   message.Timestamp,
		Text:        message.Text,
		Attachments: message.Attachments,
	})
	if err != nil {
		// The mutation already took effect; the view is stale, not wrong.
		lg.Error().Err(err).Msg("could not update the slack message")
		return
	}
	lg.Info().Str("slack_ts", timestamp).Msg("slack message updated")
}

// applyActions dispatches the callback's actions against Talk, rewriting
// the message's buttons and appending status lines as it goes. It reports
// whether the message should be pushed back to Slack.
func (s *Service) applyActions(ctx context.Context, lg zerolog.Logger, installation *Installation, token CallbackToken, callback slack.InteractionCallback, message *slack.Message) bool {
	actor := callback.User.ID

	for _, action := range callback.ActionCallback.AttachmentActions {
		switch action.Name {
		case actionModeration:
			stripActions(message.Attachments, actionModeration)

			switch action.Value {
			case valueApprove:
				stripActions(message.Attachments, actionUserModeration)
				if err := s.Talk.Approve(ctx, installation, token.HandshakeToken, token.CommentID); err != nil {
					lg.Error().Err(err).Msg("could not approve the comment")
					return false
				}
				message.Attachments = append(message.Attachments, statusAttachment("white_check_mark", actor, "approved this comment"))

			case valueReject:
				if err := s.Talk.Reject(ctx, installation, token.HandshakeToken, token.CommentID); err != nil {
					lg.Error().Err(err).Msg("could not reject the comment")
					return false
				}
				message.Attachments = append(message.Attachments, statusAttachment("no_entry_sign", actor, "rejected this comment"))

			default:
				lg.Error().Str("action_value", action.Value).Msg("invalid action value received")
				return false
			}

		case actionUserModeration:
			stripActions(message.Attachments, actionModeration, actionUserModeration)

			switch action.Value {
			case valueBan:
				if err := s.Talk.BanUser(ctx, installation, token.HandshakeToken, token.CommentID); err != nil {
					lg.Error().Err(err).Msg("could not ban the comment author")
					return false
				}
				if err := s.Talk.Reject(ctx, installation, token.HandshakeToken, token.CommentID); err != nil {
					lg.Error().Err(err).Msg("could not reject the comment")
					return false
				}
				message.Attachments = append(message.Attachments,
					statusAttachment("no_entry_sign", actor, "banned this user"),
					statusAttachment("no_entry_sign", actor, "rejected this comment"),
				)

			default:
				lg.Error().Str("action_value", action.Value).Msg("invalid action value received")
				return false
			}

		default:
			lg.Error().Str("action_name", action.Name).Msg("invalid action name received")
			return false
		}
	}

	return true
}
