package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bobg/mid"
	"github.com/bobg/subcmd/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"bouncer"
	"bouncer/pg"
	"bouncer/queue"
	"bouncer/sqlite"
)

func main() {
	var c maincmd
	err := subcmd.Run(context.Background(), c, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
}

type maincmd struct{}

func (maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"serve", doServe, "run the bouncer server", subcmd.Params(
			"-config", subcmd.String, "config.yml", "path to config file",
			"-web_only", subcmd.Bool, false, "run the HTTP handlers without the relay",
			"-relay_only", subcmd.Bool, false, "run the relay without the HTTP handlers",
		),
		"stats", doStats, "report store row counts", subcmd.Params(
			"-config", subcmd.String, "config.yml", "path to config file",
		),
		"invite", doInvite, "create a signup invite for a domain", subcmd.Params(
			"-config", subcmd.String, "config.yml", "path to config file",
		),
		"admin", doAdmin, "send an admin command to a bouncer server", subcmd.Params(
			"-url", subcmd.String, "", "base URL of bouncer server",
			"-key", subcmd.String, "", "admin key",
		),
	)
}

type config struct {
	AdminKey          string `yaml:"admin_key"`
	Certfile          string
	Keyfile           string
	Database          string
	Listen            string
	RootURL           string `yaml:"root_url"`
	IngestionURL      string `yaml:"ingestion_url"`
	Redis             string
	Stream            string
	Group             string
	Consumer          string
	DLQStream         string `yaml:"dlq_stream"`
	Workers           int
	MaxAttempts       int    `yaml:"max_attempts"`
	SlackClientID     string `yaml:"slack_client_id"`
	SlackClientSecret string `yaml:"slack_client_secret"`
	VerificationToken string `yaml:"verification_token"`
	ClientVersions    string `yaml:"client_versions"`
	Verbose           bool
}

var defaultConfig = config{
	Database:       "sqlite3:bouncer.db",
	Listen:         ":3000",
	Redis:          "redis://127.0.0.1:6379",
	Stream:         "bouncer-events",
	Group:          "bouncer",
	Workers:        4,
	MaxAttempts:    5,
	ClientVersions: ">=0.1.0 <0.2.0",
}

func loadConfig(configPath string) (config, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return config{}, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	c := defaultConfig
	err = yaml.NewDecoder(f).Decode(&c)
	return c, errors.Wrap(err, "parsing config file")
}

func openStores(ctx context.Context, s *bouncer.Service, dbconf string) (io.Closer, error) {
	dbparts := strings.SplitN(dbconf, ":", 2)
	if len(dbparts) < 2 {
		return nil, fmt.Errorf("bad database config string %s", dbconf)
	}

	switch dbparts[0] {
	case "sqlite3":
		stores, err := sqlite.Open(ctx, dbparts[1])
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		s.Installations = stores.Installations
		s.Teams = stores.Teams
		s.Configurations = stores.Configurations
		s.Users = stores.Users
		return closerFunc(stores.Close), nil

	case "postgresql":
		stores, err := pg.Open(ctx, dbparts[1])
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		s.Installations = stores.Installations
		s.Teams = stores.Teams
		s.Configurations = stores.Configurations
		s.Users = stores.Users
		return closerFunc(stores.Close), nil

	default:
		return nil, fmt.Errorf("unknown database type %s", dbparts[0])
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func doServe(ctx context.Context, configPath string, webOnly, relayOnly bool, _ []string) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if webOnly && relayOnly {
		return fmt.Errorf("at most one of -web_only and -relay_only may be given")
	}

	logger := newLogger(c.Verbose)

	ropts, err := redis.ParseURL(c.Redis)
	if err != nil {
		return errors.Wrapf(err, "parsing redis URL %s", c.Redis)
	}
	rclient := redis.NewClient(ropts)
	defer rclient.Close()

	talk, err := bouncer.NewTalkClient(c.IngestionURL, c.ClientVersions)
	if err != nil {
		return err
	}

	s := &bouncer.Service{
		VerificationToken: c.VerificationToken,
		AdminKey:          c.AdminKey,
		Talk:              talk,
		Chat: &bouncer.SlackClient{
			ClientID:     c.SlackClientID,
			ClientSecret: c.SlackClientSecret,
			RootURL:      c.RootURL,
		},
		Events: queue.NewProducer(rclient, c.Stream),
		Logger: logger,
	}

	closer, err := openStores(ctx, s, c.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	consumerName := c.Consumer
	if consumerName == "" {
		consumerName = "bouncer-" + uuid.NewString()
	}
	consumer, err := queue.NewConsumer(rclient, queue.Config{
		Stream:      c.Stream,
		Group:       c.Group,
		Consumer:    consumerName,
		DLQStream:   c.DLQStream,
		MaxAttempts: c.MaxAttempts,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "creating stream consumer")
	}
	relay := &bouncer.Relay{
		Service:  s,
		Consumer: consumer,
		Workers:  c.Workers,
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	if relayOnly {
		logger.Info().Str("consumer", consumerName).Msg("relay running")
		return relay.Run(relayCtx)
	}

	if !webOnly {
		go func() {
			if err := relay.Run(relayCtx); err != nil {
				logger.Error().Err(err).Msg("relay exited")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/events", mid.Err(s.OnIngest))
	mux.Handle("/api/slack/interactive", mid.Err(s.OnInteractive))

	httpServer := &http.Server{
		Addr:    c.Listen,
		Handler: mux,
	}
	ch := make(chan struct{})

	mux.Handle("/admin", mid.JSON(s.OnAdmin(httpServer, stopRelay, ch)))

	logger.Info().Str("addr", httpServer.Addr).Msg("listening")

	if c.Certfile != "" && c.Keyfile != "" {
		err = httpServer.ListenAndServeTLS(c.Certfile, c.Keyfile)
	} else {
		err = httpServer.ListenAndServe()
	}

	<-ch

	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func doStats(ctx context.Context, configPath string, _ []string) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var s bouncer.Service
	closer, err := openStores(ctx, &s, c.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	counts := []struct {
		name  string
		count func(context.Context) (int64, error)
	}{
		{"installations", s.Installations.Count},
		{"teams", s.Teams.Count},
		{"configurations", s.Configurations.Count},
		{"users", s.Users.Count},
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	for _, c := range counts {
		n, err := c.count(ctx)
		if err != nil {
			return errors.Wrapf(err, "counting %s", c.name)
		}
		fmt.Fprintf(w, "%s\t%d\n", c.name, n)
	}
	return w.Flush()
}

func doInvite(ctx context.Context, configPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bouncer invite DOMAIN")
	}

	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ropts, err := redis.ParseURL(c.Redis)
	if err != nil {
		return errors.Wrapf(err, "parsing redis URL %s", c.Redis)
	}
	rclient := redis.NewClient(ropts)
	defer rclient.Close()

	inv := bouncer.Invites{Client: rclient}
	token, err := inv.Create(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "creating invite")
	}
	fmt.Println(token)
	return nil
}

func doAdmin(ctx context.Context, url, key string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bouncer admin -url URL -key KEY COMMAND")
	}

	cmd := bouncer.AdminCmd{
		Key:  key,
		Name: args[0],
	}
	enc, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "marshaling command")
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url+"/admin", bytes.NewReader(enc))
	if err != nil {
		return errors.Wrap(err, "preparing request")
	}
	req.Header.Set("Content-Type", "application/json")
	var cl http.Client
	resp, err := cl.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending command to bouncer service")
	}
	defer resp.Body.Close()
	log.Printf("Response: %s", resp.Status)
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		io.Copy(os.Stdout, resp.Body)
	}
	return nil
}
