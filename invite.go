package bouncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Invites mints and redeems team-join invite tokens, stored in redis with a
// one-day expiry.
type Invites struct {
	Client *redis.Client
}

const inviteTTL = 24 * time.Hour

func (inv Invites) Create(ctx context.Context, domain string) (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating invite token")
	}
	token := hex.EncodeToString(buf)

	err := inv.Client.Set(ctx, "invite:"+token, domain, inviteTTL).Err()
	if err != nil {
		return "", errors.Wrap(err, "storing invite")
	}
	return token, nil
}

// Check returns the domain an invite token was minted for, without
// consuming it.
func (inv Invites) Check(ctx context.Context, token string) (string, error) {
	domain, err := inv.Client.Get(ctx, "invite:"+token).Result()
	if errors.Is(err, redis.Nil) || domain == "" {
		return "", errors.WithMessage(ErrNotFound, "invalid invite token")
	}
	if err != nil {
		return "", errors.Wrap(err, "checking invite")
	}
	return domain, nil
}

// Use consumes an invite token.
func (inv Invites) Use(ctx context.Context, token string) error {
	removed, err := inv.Client.Del(ctx, "invite:"+token).Result()
	if err != nil {
		return errors.Wrap(err, "consuming invite")
	}
	if removed != 1 {
		return errors.WithMessage(ErrNotFound, "invalid invite token")
	}
	return nil
}
