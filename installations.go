package bouncer

import "context"

// InstallationStore is a persistent store for Installations.
type InstallationStore interface {
	ByID(context.Context, string) (*Installation, error)
	Add(context.Context, *Installation) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	Count(context.Context) (int64, error)
}

// Installation is one registered deployment of the comment platform,
// owned by a Team.
type Installation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RootURL     string `json:"root_url"`
	AccessToken string `json:"-"` // encrypted; see DecryptToken
	TalkVersion string `json:"talk_version"`
	TeamID      string `json:"team_id"`
	Disabled    bool   `json:"disabled"`
}

// AccessTokenPlaintext decrypts the installation's stored access token with
// the handshake token supplied by an inbound event or callback. Tokens are
// decrypted per request and never cached.
func (inst *Installation) AccessTokenPlaintext(handshakeToken string) (string, error) {
	return DecryptToken(inst.AccessToken, handshakeToken)
}
