/*
Srwatch runs a Discord webhook server that records match results voted on
through message buttons and keeps track of each player's rank updates.

It takes in no flags but multiple environment variables, see config below. It
will not serve TLS by default, but can be enabled if a cert and key file are
provided.

Every guild gets its own SQLite file under DATA_DIR, created and migrated the
first time the guild is seen. The default driver does not require CGO.
*/
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/srwatch/internal/core"
	"github.com/jdholdren/srwatch/internal/core/db"
	"github.com/jdholdren/srwatch/internal/discord"
	"github.com/jdholdren/srwatch/internal/discserv"
	"github.com/jdholdren/srwatch/internal/logging"
	"github.com/jdholdren/srwatch/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("error creating logger: %s", err)
	}
	defer func() {
		// Syncing stderr fails on some platforms, nothing to do about it
		_ = l.Sync()
	}()
	l.Infow("parsed config", "config", cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		l.Fatalf("error creating data dir: %s", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := db.New(db.Config{Dir: cfg.DataDir, Driver: cfg.DBDriver}, l.Named("db"))
	defer func() {
		if err := store.Close(); err != nil {
			l.Errorw("error closing ledgers", "err", err)
		}
	}()

	cr := core.New(store, core.Config{
		LossThreshold: cfg.LossThreshold,
		WinThreshold:  cfg.WinThreshold,
		Step:          cfg.Step,
		DrawsAsLosses: cfg.DrawsAsLosses,
	}, l.Named("core"), m)
	defer cr.Close()

	dCli := discord.NewClient(
		discord.ClientConfig{
			AppID: cfg.DiscordAppID,
			Token: cfg.DiscordToken,
		},
		l.Named("discord_client"),
	)
	if !cfg.SkipRegister {
		cmds := discord.Commands(discserv.MapTypes())
		for _, guildID := range cfg.DiscordGuildIDs {
			if err := dCli.RegisterCommands(ctx, guildID, cmds); err != nil {
				l.Fatalf("error registering commands for guild '%s': %s", guildID, err)
			}
		}
	}

	s, err := discserv.New(
		l.Named("discserv"),
		discserv.Config{
			Port:        cfg.Port,
			VerifyKey:   cfg.DiscordVerifyKey,
			TLSCertFile: cfg.TLSCertFile,
			TLSKeyFile:  cfg.TLSKeyFile,
		},
		cr,
		dCli,
		m,
	)
	if err != nil {
		l.Fatalw("error creating discord server", "err", err)
	}

	go func() {
		l.Infof("serving on port %d", cfg.Port)
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("error while serving", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	l.Info("shutting down...")
	shutCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutCtx); err != nil {
		l.Errorw("error shutting down server", "err", err)
	}
	s.Drain()
}

type config struct {
	Debug bool `env:"DEBUG"`

	// Server
	Port        int    `env:"PORT,default=8080"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	// Storage
	DataDir  string `env:"DATA_DIR,default=data"`
	DBDriver string `env:"DB_DRIVER,default=sqlite"`

	// Rank updates
	LossThreshold int  `env:"RANK_LOSS_THRESHOLD,default=15"`
	WinThreshold  int  `env:"RANK_WIN_THRESHOLD,default=5"`
	Step          int  `env:"RANK_STEP,default=25"`
	DrawsAsLosses bool `env:"RANK_DRAWS_AS_LOSSES,default=false"`

	// Discord stuffs
	DiscordToken     string   `env:"DISCORD_TOKEN"`
	DiscordAppID     string   `env:"DISCORD_APP_ID"`
	DiscordGuildIDs  []string `env:"DISCORD_GUILD_IDS"`
	DiscordVerifyKey string   `env:"DISCORD_VERIFY_KEY,required"`
	// If we should not try to register commands with discord
	SkipRegister bool `env:"SKIP_REGISTER"`
}

func (c config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("debug", c.Debug)
	enc.AddInt("port", c.Port)
	enc.AddString("tls_cert_file", c.TLSCertFile)
	enc.AddString("tls_key_file", c.TLSKeyFile)
	enc.AddString("data_dir", c.DataDir)
	enc.AddString("db_driver", c.DBDriver)
	enc.AddInt("rank_loss_threshold", c.LossThreshold)
	enc.AddInt("rank_win_threshold", c.WinThreshold)
	enc.AddInt("rank_step", c.Step)
	enc.AddBool("rank_draws_as_losses", c.DrawsAsLosses)
	enc.AddString("discord_app_id", c.DiscordAppID)
	enc.AddInt("discord_guild_count", len(c.DiscordGuildIDs))
	enc.AddBool("skip_register", c.SkipRegister)

	return nil
}
