package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/blowout/internal/app"
	"github.com/ayusman/blowout/internal/capture"
	"github.com/ayusman/blowout/internal/party"
	"github.com/ayusman/blowout/internal/server"
	"github.com/ayusman/blowout/internal/store"
	"github.com/ayusman/blowout/internal/tray"
	"github.com/ayusman/blowout/web"
)

const (
	releaseVersion = "0.1.0"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &Config{}
	if err := newCmd(cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func run(ctx context.Context, cfg *Config) error {
	setupLogging(cfg.verbose)

	if err := os.MkdirAll(cfg.dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(filepath.Join(cfg.dataDir, "blowout.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var pipeline *app.App
	if cfg.camera >= 0 {
		camCfg := capture.DefaultConfig()
		camCfg.DeviceID = cfg.camera
		pipeline = app.New(app.Config{Camera: capture.NewCamera(camCfg)})
		defer pipeline.Close()
		log.Info().Int("device", cfg.camera).Msg("Using local camera")
	}

	sessions := party.NewManager(sessionOptions(cfg, st, pipeline))
	defer sessions.CloseAll()

	srv := server.New(server.Config{
		Version:      releaseVersion,
		Assets:       web.FS,
		StaticDir:    cfg.staticDir,
		Store:        st,
		Sessions:     sessions,
		App:          pipeline,
		MaxFrameRate: cfg.frameRate,
		PublicURL:    cfg.publicURL,
	})

	log.Info().Str("version", releaseVersion).Str("url", cfg.localURL()).Msg("Blowout is ready")

	if !cfg.tray {
		return srv.ListenAndServe(ctx, cfg.addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.addr())
		cancel()
	}()

	t := tray.New()
	t.OnToggle(pipeline.SetEnabled)
	t.OnOpen(func() {
		if err := openBrowser(cfg.localURL()); err != nil {
			log.Warn().Err(err).Msg("Failed to open browser")
		}
	})
	t.OnReset(sessions.ResetAll)
	t.OnQuit(cancel)
	sessions.Watch(func(e party.Event) {
		switch e.Type {
		case party.EventBlow, party.EventMessage:
			t.SetLastEvent(string(e.Type))
		case party.EventCelebration:
			t.SetLastEvent("celebration " + string(e.Celebration))
		}
	})

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()

	cancel()
	return <-errCh
}

// sessionOptions reads the stored settings for every new party, so changes
// made through the settings API apply to the next guest.
func sessionOptions(cfg *Config, st *store.Store, pipeline *app.App) func() party.Options {
	return func() party.Options {
		opts := party.DefaultOptions()

		tuning, err := st.Settings().Tuning()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load tuning, using defaults")
		} else {
			opts.Tuning = tuning
		}

		opts.Signature = cfg.signature
		if opts.Signature == "" {
			sig, err := st.Settings().Signature()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to load signature")
			}
			opts.Signature = sig
		}

		if pipeline != nil {
			opts.Source = pipeline.Source()
		}
		return opts
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
