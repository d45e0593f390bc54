package bouncer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// CommentClient is the Remote Comment Client: a typed façade over a Talk
// installation's GraphQL endpoint. Every call decrypts the installation's
// access token with the supplied handshake token; plaintext tokens are never
// cached.
type CommentClient interface {
	GetComment(ctx context.Context, inst *Installation, handshakeToken, commentID string) (*Comment, error)
	Approve(ctx context.Context, inst *Installation, handshakeToken, commentID string) error
	Reject(ctx context.Context, inst *Installation, handshakeToken, commentID string) error
	BanUser(ctx context.Context, inst *Installation, handshakeToken, commentID string) error
	TestInstallation(ctx context.Context, rootURL, handshakeToken, accessToken string) (*InstallationVersions, error)
}

// InstallationVersions is what a candidate installation reports during the
// onboarding handshake.
type InstallationVersions struct {
	ClientVersion   string `json:"client_version"`
	PlatformVersion string `json:"platform_version"`
}

// TalkClient implements CommentClient over HTTP.
type TalkClient struct {
	// IngestionURL is the public URL Talk installations push events to.
	// It is offered to a candidate installation during TestInstallation.
	IngestionURL string

	// ClientVersions is the accepted range for the Talk-side plugin version.
	ClientVersions *semver.Constraints
}

var _ CommentClient = &TalkClient{}

// NewTalkClient builds a TalkClient. clientVersions is a semver range
// such as ">=0.1.0 <0.2.0".
func NewTalkClient(ingestionURL, clientVersions string) (*TalkClient, error) {
	c, err := semver.NewConstraint(clientVersions)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing client version range %s", clientVersions)
	}
	return &TalkClient{IngestionURL: ingestionURL, ClientVersions: c}, nil
}

const talkTimeout = 30 * time.Second

// Field names in these queries are part of the Talk graph contract and must
// not change.
const getCommentQuery = `query getComment($comment_id: ID!) {
  comment(id: $comment_id) {
    id
    asset {
      id
      title
      url
    }
    body
    user {
      username
    }
    status
    status_history {
      type
    }
    action_summaries {
      __typename
      count
    }
    created_at
  }
}`

func (t *TalkClient) GetComment(ctx context.Context, inst *Installation, handshakeToken, commentID string) (*Comment, error) {
	var data struct {
		Comment *Comment `json:"comment"`
	}
	err := t.graph(ctx, inst, handshakeToken, getCommentQuery, map[string]any{"comment_id": commentID}, &data)
	if err != nil {
		return nil, err
	}
	if data.Comment == nil {
		return nil, errors.WithMessage(ErrNotFound, "comment from graph was null")
	}
	return data.Comment, nil
}

const setCommentStatusQuery = `mutation setCommentStatus($comment_id: ID!, $status: COMMENT_STATUS!) {
  setCommentStatus(id: $comment_id, status: $status) {
    errors {
      translation_key
    }
  }
}`

// SetStatus moves a comment to ACCEPTED or REJECTED. A non-null mutation
// result means the remote reported field errors.
func (t *TalkClient) SetStatus(ctx context.Context, inst *Installation, handshakeToken, commentID, status string) error {
	if status != StatusAccepted && status != StatusRejected {
		return errors.Errorf("cannot set comment status %s", status)
	}
	var data struct {
		SetCommentStatus json.RawMessage `json:"setCommentStatus"`
	}
	err := t.graph(ctx, inst, handshakeToken, setCommentStatusQuery, map[string]any{
		"comment_id": commentID,
		"status":     status,
	}, &data)
	if err != nil {
		return err
	}
	if !isNull(data.SetCommentStatus) {
		return MutationError{Op: "setCommentStatus", Payload: string(data.SetCommentStatus)}
	}
	return nil
}

func (t *TalkClient) Approve(ctx context.Context, inst *Installation, handshakeToken, commentID string) error {
	return t.SetStatus(ctx, inst, handshakeToken, commentID, StatusAccepted)
}

func (t *TalkClient) Reject(ctx context.Context, inst *Installation, handshakeToken, commentID string) error {
	return t.SetStatus(ctx, inst, handshakeToken, commentID, StatusRejected)
}

const banAuthorQuery = `query getComment($comment_id: ID!) {
  comment(id: $comment_id) {
    user {
      userID: id
      username
    }
  }
}`

// The ban mutation changed shape across Talk versions. Each strategy covers
// one version range; adding a version means adding a row.
type banStrategy struct {
	versions     *semver.Constraints
	query        string
	needsMessage bool
}

var banStrategies = []banStrategy{
	{
		versions: mustConstraint("3.x"),
		// Aliased to banUser to keep the response shape uniform with 4.x.
		query: `mutation banUser($user_id: ID!) {
  banUser: setUserStatus(id: $user_id, status: BANNED) {
    errors {
      translation_key
    }
  }
}`,
	},
	{
		versions: mustConstraint("4.x"),
		query: `mutation banUser($user_id: ID!, $message: String!) {
  banUser(input: {id: $user_id, message: $message}) {
    errors {
      translation_key
    }
  }
}`,
		needsMessage: true,
	},
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// BanUser bans the author of a comment: resolve the author through the
// graph, then issue the platform-version-appropriate ban mutation. Newer
// platforms require a pre-translated ban message, fetched from the
// installation's translation endpoint.
func (t *TalkClient) BanUser(ctx context.Context, inst *Installation, handshakeToken, commentID string) error {
	var data struct {
		Comment *struct {
			User struct {
				UserID   string `json:"userID"`
				Username string `json:"username"`
			} `json:"user"`
		} `json:"comment"`
	}
	err := t.graph(ctx, inst, handshakeToken, banAuthorQuery, map[string]any{"comment_id": commentID}, &data)
	if err != nil {
		return err
	}
	if data.Comment == nil {
		return errors.WithMessage(ErrNotFound, "comment from graph was null")
	}

	version, err := semver.NewVersion(inst.TalkVersion)
	if err != nil {
		return errors.Wrapf(err, "parsing platform version %s", inst.TalkVersion)
	}
	var strategy *banStrategy
	for i := range banStrategies {
		if banStrategies[i].versions.Check(version) {
			strategy = &banStrategies[i]
			break
		}
	}
	if strategy == nil {
		return errors.Errorf("no ban mutation for platform version %s", inst.TalkVersion)
	}

	variables := map[string]any{"user_id": data.Comment.User.UserID}
	if strategy.needsMessage {
		message, err := t.Translate(ctx, inst, handshakeToken, "bandialog.email_message_ban", data.Comment.User.Username)
		if err != nil {
			return errors.Wrap(err, "fetching translated ban message")
		}
		variables["message"] = message
	}

	var result struct {
		BanUser json.RawMessage `json:"banUser"`
	}
	err = t.graph(ctx, inst, handshakeToken, strategy.query, variables, &result)
	if err != nil {
		return err
	}
	if !isNull(result.BanUser) {
		return MutationError{Op: "banUser", Payload: string(result.BanUser)}
	}
	return nil
}

// Translate fetches a translated string from the installation, for messages
// that must be rendered in the installation's locale.
func (t *TalkClient) Translate(ctx context.Context, inst *Installation, handshakeToken, key string, replacements ...string) (string, error) {
	accessToken, err := inst.AccessTokenPlaintext(handshakeToken)
	if err != nil {
		return "", errors.Wrap(err, "decrypting access token")
	}

	body, err := json.Marshal(map[string]any{
		"key":          key,
		"replacements": replacements,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshaling translate request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL(inst.RootURL, "api/slack-bouncer/translate"), bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "preparing translate request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	cl := &http.Client{Timeout: talkTimeout}
	resp, err := cl.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "requesting translation")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("non-200 response %d from translation endpoint", resp.StatusCode)
	}
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading translation response")
	}
	return string(text), nil
}

// TestInstallation verifies a candidate installation during onboarding. It
// sends a random challenge to the installation's verification endpoint and
// requires the same challenge echoed back plus an acceptable client version.
func (t *TalkClient) TestInstallation(ctx context.Context, rootURL, handshakeToken, accessToken string) (*InstallationVersions, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "generating challenge")
	}
	challenge := hex.EncodeToString(buf)

	body, err := json.Marshal(map[string]any{
		"challenge": challenge,
		// Field name matches what the Talk-side plugin reads.
		"injestion_url":   t.IngestionURL,
		"handshake_token": handshakeToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling test request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL(rootURL, "api/slack-bouncer/test"), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "preparing test request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	cl := &http.Client{Timeout: talkTimeout}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting installation test")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, VerificationError{Reason: "non-202 response from installation"}
	}

	var echoed struct {
		Challenge string `json:"challenge"`
		InstallationVersions
	}
	if err := json.NewDecoder(resp.Body).Decode(&echoed); err != nil {
		return nil, errors.Wrap(err, "decoding test response")
	}
	if echoed.Challenge != challenge {
		return nil, VerificationError{Reason: "challenge mismatch"}
	}

	clientVersion, err := semver.NewVersion(echoed.ClientVersion)
	if err != nil {
		return nil, VerificationError{Reason: "unparseable client version " + echoed.ClientVersion}
	}
	if !t.ClientVersions.Check(clientVersion) {
		return nil, VerificationError{Reason: "client version " + echoed.ClientVersion + " outside accepted range"}
	}

	return &echoed.InstallationVersions, nil
}

// graph performs one GraphQL request against an installation, authenticated
// with the per-request decrypted access token. The HTTP client is built
// fresh per call so no credential-bearing state outlives the request.
func (t *TalkClient) graph(ctx context.Context, inst *Installation, handshakeToken, query string, variables map[string]any, out any) error {
	accessToken, err := inst.AccessTokenPlaintext(handshakeToken)
	if err != nil {
		return errors.Wrap(err, "decrypting access token")
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return errors.Wrap(err, "marshaling graph request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL(inst.RootURL, "api/v1/graph/ql"), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "preparing graph request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	cl := &http.Client{Timeout: talkTimeout}
	resp, err := cl.Do(req)
	if err != nil {
		return errors.Wrap(err, "requesting graph")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("non-200 response %d from graph", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(err, "decoding graph response")
	}
	if len(envelope.Errors) > 0 {
		return errors.Errorf("graph error: %s", envelope.Errors[0].Message)
	}
	if out != nil && !isNull(envelope.Data) {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(err, "unmarshaling graph data")
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func apiURL(root, path string) string {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root + path
}
