package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/client/call"
	"github.com/dkeye/Huddle/internal/client/media"
	"github.com/dkeye/Huddle/internal/client/signal"
	"github.com/dkeye/Huddle/internal/client/ui"
	"github.com/dkeye/Huddle/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "huddle-client",
		Short: "Headless client for Huddle group calls",
		Long: `huddle-client joins a Huddle room from the terminal. It sends synthetic
audio and video, prints the roster and chat, and reads commands from stdin.

Examples:
  huddle-client create --name alice
  huddle-client join 7f3k2q --name bob --no-video`,
	}
	clientFlags(root.PersistentFlags())
	v := newViper(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a room and wait for others",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCall(cmd.Context(), v, "")
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "join <room-id>",
		Short: "Join an existing room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), v, args[0])
		},
	})
	return root
}

func clientFlags(f *pflag.FlagSet) {
	f.String("server", "ws://localhost:8080/api/ws/signal", "signal endpoint")
	f.StringSlice("stun", []string{rtc.DefaultSTUN}, "STUN server urls")
	f.String("name", "", "display name")
	f.Int("retries", 3, "reconnect attempts per peer")
	f.Duration("retry-delay", 2*time.Second, "pause between reconnect attempts")
	f.Bool("no-video", false, "join without a camera")
	f.String("log-level", "info", "log level")
}

// newViper layers flags over HUDDLE_ variables over defaults. --retry-delay
// maps to the retry_delay key and so on.
func newViper(f *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	config.SetClientDefaults(v)
	v.SetEnvPrefix("huddle")
	v.AutomaticEnv()
	f.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(fl.Name, "-", "_"), fl)
	})
	return v
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

func runCall(ctx context.Context, v *viper.Viper, roomID string) error {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	conn, err := signal.Dial(ctx, cfg.Server)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer conn.Close()

	out := ui.NewPrinter(os.Stdout)
	dialer := rtc.NewDialer(rtc.DefaultWebRTCConfig(cfg.STUN))
	c := call.New(conn, dialer, media.Synthetic{}, call.Options{
		Name:       cfg.Name,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Media:      media.Options{NoVideo: cfg.NoVideo},
	}, func(ev call.Event) {
		out.Event(ev)
		if ev.Kind == call.EventRoomJoined {
			out.Println(ui.MutedStyle.Render("share the room id to invite others, /help lists commands"))
		}
	})

	if roomID == "" {
		err = c.Create()
	} else {
		err = c.Join(roomID)
	}
	if err != nil {
		return err
	}

	go readCommands(os.Stdin, c, out)

	err = c.Run(ctx)
	switch {
	case err == nil, errors.Is(err, call.ErrCallEnded), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
