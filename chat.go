package bouncer

import (
	"context"
	"net/http"
	"sort"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// ChatClient is the Remote Chat Client: a façade over the Slack REST API.
// Calls are plain request/response; no retries are performed here, callers
// decide what a failure means.
type ChatClient interface {
	ListChannels(ctx context.Context, token string) ([]ChatChannel, error)
	PostMessage(ctx context.Context, token, channelID string, msg ChatMessage) (string, error)
	UpdateMessage(ctx context.Context, token, channelID string, msg ChatMessage) (string, error)
	OAuthAccess(ctx context.Context, code, redirectPath string) (*OAuthGrant, error)
	RevokeToken(ctx context.Context, token string) error
}

// ChatChannel is a channel a configuration can bind to.
type ChatChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatMessage is a message to post or rewrite. Timestamp identifies an
// existing message for UpdateMessage and is ignored by PostMessage.
type ChatMessage struct {
	Timestamp   string
	Text        string
	Attachments []slack.Attachment
}

// OAuthGrant is the result of exchanging an OAuth code.
type OAuthGrant struct {
	AccessToken string
	Scope       string
	TeamID      string
	TeamName    string
	UserID      string
}

// SlackClient implements ChatClient with slack-go. A fresh API client is
// built per call from the supplied token; tokens are never pooled across
// tenants.
type SlackClient struct {
	ClientID     string
	ClientSecret string
	RootURL      string // public base URL, for OAuth redirect URIs

	// APIURL overrides the Slack API endpoint. Tests point it at a local
	// server; leave empty in production.
	APIURL string
}

var _ ChatClient = &SlackClient{}

func (s *SlackClient) client(token string) *slack.Client {
	if s.APIURL != "" {
		return slack.New(token, slack.OptionAPIURL(s.APIURL))
	}
	return slack.New(token)
}

// ListChannels merges the public channels and private groups visible to the
// token, excluding archived conversations and person-to-person chats,
// sorted by name.
func (s *SlackClient) ListChannels(ctx context.Context, token string) ([]ChatChannel, error) {
	var (
		cl     = s.client(token)
		result []ChatChannel
		params = &slack.GetConversationsParameters{
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
		}
	)
	for {
		channels, cursor, err := cl.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, remoteErr(errors.Wrap(err, "listing conversations"))
		}
		for _, ch := range channels {
			if ch.IsIM || ch.IsMpIM {
				continue
			}
			result = append(result, ChatChannel{ID: ch.ID, Name: ch.Name})
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *SlackClient) PostMessage(ctx context.Context, token, channelID string, msg ChatMessage) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionAttachments(msg.Attachments...)}
	if msg.Text != "" {
		options = append(options, slack.MsgOptionText(msg.Text, false))
	}
	_, timestamp, err := s.client(token).PostMessageContext(ctx, channelID, options...)
	if err != nil {
		return "", remoteErr(err)
	}
	return timestamp, nil
}

func (s *SlackClient) UpdateMessage(ctx context.Context, token, channelID string, msg ChatMessage) (string, error) {
	options := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionAttachments(msg.Attachments...),
	}
	_, timestamp, _, err := s.client(token).UpdateMessageContext(ctx, channelID, msg.Timestamp, options...)
	if err != nil {
		return "", remoteErr(err)
	}
	return timestamp, nil
}

func (s *SlackClient) OAuthAccess(ctx context.Context, code, redirectPath string) (*OAuthGrant, error) {
	resp, err := slack.GetOAuthResponseContext(ctx, &http.Client{}, s.ClientID, s.ClientSecret, code, s.RootURL+redirectPath)
	if err != nil {
		return nil, remoteErr(err)
	}
	return &OAuthGrant{
		AccessToken: resp.AccessToken,
		Scope:       resp.Scope,
		TeamID:      resp.TeamID,
		TeamName:    resp.TeamName,
		UserID:      resp.UserID,
	}, nil
}

func (s *SlackClient) RevokeToken(ctx context.Context, token string) error {
	_, err := s.client(token).SendAuthRevokeContext(ctx, token)
	return remoteErr(err)
}

// remoteErr maps a Slack "ok": false response onto RemoteError, preserving
// the machine-readable code. Transport errors pass through unchanged.
func remoteErr(err error) error {
	if err == nil {
		return nil
	}
	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		return RemoteError{Code: serr.Err}
	}
	return err
}
