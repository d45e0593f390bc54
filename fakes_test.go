package bouncer

import (
	"context"
	"fmt"
	"sync"
)

type fakeInstallations struct {
	m map[string]*Installation
}

var _ InstallationStore = &fakeInstallations{}

func (f *fakeInstallations) ByID(_ context.Context, id string) (*Installation, error) {
	inst, ok := f.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

func (f *fakeInstallations) Add(_ context.Context, inst *Installation) error {
	if f.m == nil {
		f.m = make(map[string]*Installation)
	}
	f.m[inst.ID] = inst
	return nil
}

func (f *fakeInstallations) SetDisabled(_ context.Context, id string, disabled bool) error {
	inst, ok := f.m[id]
	if !ok {
		return ErrNotFound
	}
	inst.Disabled = disabled
	return nil
}

func (f *fakeInstallations) Count(context.Context) (int64, error) {
	return int64(len(f.m)), nil
}

type fakeTeams struct {
	m map[string]*Team
}

var _ TeamStore = &fakeTeams{}

func (f *fakeTeams) ByID(_ context.Context, id string) (*Team, error) {
	team, ok := f.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return team, nil
}

func (f *fakeTeams) Add(_ context.Context, team *Team) error {
	if f.m == nil {
		f.m = make(map[string]*Team)
	}
	f.m[team.ID] = team
	return nil
}

func (f *fakeTeams) SetDisabled(_ context.Context, id string, disabled bool) error {
	team, ok := f.m[id]
	if !ok {
		return ErrNotFound
	}
	team.Disabled = disabled
	return nil
}

func (f *fakeTeams) Count(context.Context) (int64, error) {
	return int64(len(f.m)), nil
}

type fakeConfigurations struct {
	list []*Configuration
}

var _ ConfigurationStore = &fakeConfigurations{}

func (f *fakeConfigurations) ByInstallation(_ context.Context, installationID string) ([]*Configuration, error) {
	var result []*Configuration
	for _, c := range f.list {
		if c.InstallationID == installationID && !c.Disabled {
			result = append(result, c)
		}
	}
	return result, nil
}

func (f *fakeConfigurations) ByTeamChannel(_ context.Context, teamID, channelID string) (*Configuration, error) {
	for _, c := range f.list {
		if c.TeamID == teamID && c.ChannelID == channelID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeConfigurations) Add(_ context.Context, c *Configuration) error {
	f.list = append(f.list, c)
	return nil
}

func (f *fakeConfigurations) Count(context.Context) (int64, error) {
	return int64(len(f.list)), nil
}

type fakeUsers struct {
	m map[string]*User
}

var _ UserStore = &fakeUsers{}

func (f *fakeUsers) ByID(_ context.Context, id string) (*User, error) {
	user, ok := f.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) ByIDs(_ context.Context, ids []string) ([]*User, error) {
	var result []*User
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if user, ok := f.m[id]; ok {
			result = append(result, user)
		}
	}
	return result, nil
}

func (f *fakeUsers) Add(_ context.Context, user *User) error {
	if f.m == nil {
		f.m = make(map[string]*User)
	}
	f.m[user.ID] = user
	return nil
}

func (f *fakeUsers) Count(context.Context) (int64, error) {
	return int64(len(f.m)), nil
}

// fakeTalk records the moderation calls made against it, in order.
type fakeTalk struct {
	mu       sync.Mutex
	comments map[string]*Comment
	getErr   error
	opErr    error
	ops      []string
}

var _ CommentClient = &fakeTalk{}

func (f *fakeTalk) GetComment(_ context.Context, _ *Installation, _, commentID string) (*Comment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	comment, ok := f.comments[commentID]
	if !ok {
		return nil, ErrNotFound
	}
	return comment, nil
}

func (f *fakeTalk) op(name, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return f.opErr
	}
	f.ops = append(f.ops, fmt.Sprintf("%s:%s", name, commentID))
	return nil
}

func (f *fakeTalk) Approve(_ context.Context, _ *Installation, _, commentID string) error {
	return f.op("approve", commentID)
}

func (f *fakeTalk) Reject(_ context.Context, _ *Installation, _, commentID string) error {
	return f.op("reject", commentID)
}

func (f *fakeTalk) BanUser(_ context.Context, _ *Installation, _, commentID string) error {
	return f.op("ban", commentID)
}

func (f *fakeTalk) TestInstallation(context.Context, string, string, string) (*InstallationVersions, error) {
	return &InstallationVersions{ClientVersion: "0.1.0", PlatformVersion: "4.0.0"}, nil
}

type chatCall struct {
	token     string
	channelID string
	msg       ChatMessage
}

// fakeChat records posted and updated messages.
type fakeChat struct {
	mu      sync.Mutex
	postErr error
	posts   []chatCall
	updates []chatCall
}

var _ ChatClient = &fakeChat{}

func (f *fakeChat) ListChannels(context.Context, string) ([]ChatChannel, error) {
	return nil, nil
}

func (f *fakeChat) PostMessage(_ context.Context, token, channelID string, msg ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posts = append(f.posts, chatCall{token: token, channelID: channelID, msg: msg})
	return fmt.Sprintf("100.%d", len(f.posts)), nil
}

func (f *fakeChat) UpdateMessage(_ context.Context, token, channelID string, msg ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, chatCall{token: token, channelID: channelID, msg: msg})
	return msg.Timestamp, nil
}

func (f *fakeChat) OAuthAccess(context.Context, string, string) (*OAuthGrant, error) {
	return &OAuthGrant{}, nil
}

func (f *fakeChat) RevokeToken(context.Context, string) error {
	return nil
}
