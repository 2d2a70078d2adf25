package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	alsrctoml "github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/config"
	"github.com/gregnietsky/dclinabox-go/internal/harness"
	"github.com/gregnietsky/dclinabox-go/internal/session"
	"github.com/gregnietsky/dclinabox-go/internal/watchdog"

	"github.com/tzrikka/xdg"
)

const (
	// ConfigDirName and ConfigFileName name the on-disk config file (§6).
	ConfigDirName  = "dclinabox"
	ConfigFileName = "config.toml"
)

// cfgPath is resolved once in main and reused both to build the flags'
// altsrc TOML sources and to open the config.Store in run.
var cfgPath string

func main() {
	bi, _ := debug.ReadBuildInfo()
	version := "(devel)"
	if bi != nil && bi.Main.Version != "" {
		version = bi.Main.Version
	}

	cfgPath = resolveConfigPath()

	cmd := &cli.Command{
		Name:    "dclinabox",
		Usage:   "WebSocket-to-pseudo-terminal gateway",
		Version: version,
		Flags:   flags(altsrc.StringSourcer(cfgPath)),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := initLog(cmd.Bool("dev"))

	store, err := config.Open(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	node := cmd.String("node")
	mgr := session.NewManager(store, node, log)
	mgr.Run()
	defer mgr.Stop()

	wd := watchdog.New(watchdog.Defaults{
		ReadSecs:  int64(cmd.Int("read-timeout-secs")),
		IdleSecs:  int64(cmd.Int("idle-timeout-secs")),
		PingSecs:  int64(cmd.Int("ping-interval-secs")),
		CloseSecs: int64(cmd.Int("close-timeout-secs")),
		LifeSecs:  int64(cmd.Int("life-secs")),
		WakeSecs:  int64(cmd.Int("wake-secs")),
	}, log)
	wd.Run()
	defer wd.Stop()

	gw := &harness.Gateway{
		Store:        store,
		Manager:      mgr,
		Watchdog:     wd,
		Log:          log,
		DefaultShell: cmd.String("default-shell"),
	}

	addr := cmd.String("listen")
	log.Info().Str("addr", addr).Msg("dclinabox: listening")

	srv := &http.Server{
		Addr:    addr,
		Handler: gw,
	}
	return srv.ListenAndServe()
}

func flags(path altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to listen on",
			Value: ":8080",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_LISTEN"),
				alsrctoml.TOML("server.listen", path),
			),
		},
		&cli.StringFlag{
			Name:  "node",
			Usage: "node label shown in the session title",
			Value: hostnameOrDefault(),
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_NODE"),
				alsrctoml.TOML("server.node", path),
			),
		},
		&cli.StringFlag{
			Name:  "default-shell",
			Usage: "program spawned under the pseudo-terminal when no SSO rule matches",
			Value: "/bin/login",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_DEFAULT_SHELL"),
				alsrctoml.TOML("server.default_shell", path),
			),
		},
		&cli.IntFlag{
			Name:  "read-timeout-secs",
			Usage: "seconds a connection may go without a completed frame before it is closed (§4.7)",
			Value: 60,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_READ_TIMEOUT_SECS"),
				alsrctoml.TOML("timers.read_secs", path),
			),
		},
		&cli.IntFlag{
			Name:  "idle-timeout-secs",
			Usage: "seconds a connection may go without any completed frame before it is closed",
			Value: 7200,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_IDLE_TIMEOUT_SECS"),
				alsrctoml.TOML("timers.idle_secs", path),
			),
		},
		&cli.IntFlag{
			Name:  "ping-interval-secs",
			Usage: "seconds between watchdog heartbeat pings",
			Value: 30,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_PING_INTERVAL_SECS"),
				alsrctoml.TOML("timers.ping_secs", path),
			),
		},
		&cli.IntFlag{
			Name:  "close-timeout-secs",
			Usage: "seconds to wait for a peer's close reply before forcing shut",
			Value: 10,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_CLOSE_TIMEOUT_SECS"),
				alsrctoml.TOML("timers.close_secs", path),
			),
		},
		&cli.IntFlag{
			Name:  "life-secs",
			Usage: "seconds the process lingers with zero connections before exiting (0 = never)",
			Value: 0,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_LIFE_SECS"),
				alsrctoml.TOML("timers.life_secs", path),
			),
		},
		&cli.IntFlag{
			Name:  "wake-secs",
			Usage: "seconds between global wake-deadline callbacks (0 = disabled)",
			Value: 0,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DCLINABOX_WAKE_SECS"),
				alsrctoml.TOML("timers.wake_secs", path),
			),
		},
	}
}

// resolveConfigPath returns the path to the app's configuration file,
// creating an empty one if it doesn't already exist yet (mirrors
// cmd/timpani/main.go's configFile helper).
func resolveConfigPath() string {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		fmt.Printf("Error: failed to create config file: %v\n", err)
		os.Exit(1)
	}
	return path
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "dclinabox"
	}
	return h
}

// initLog sets up the process-wide zerolog logger, console-formatted in dev
// mode and structured JSON otherwise.
func initLog(devMode bool) zerolog.Logger {
	var w = os.Stderr
	var log zerolog.Logger
	if devMode {
		log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(w).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &log
	return log
}
