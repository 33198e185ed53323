package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ayusman/blowout/internal/server/api"
)

// Config holds the command-line configuration.
type Config struct {
	bind      string
	port      int
	dataDir   string
	staticDir string
	camera    int
	frameRate int
	signature string
	publicURL string
	tray      bool
	verbose   bool
	version   bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.frameRate < 1 || c.frameRate > 120 {
		return fmt.Errorf("invalid frame rate (must be between 1-120 inclusive): %d", c.frameRate)
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.signature)) > api.MaxSignatureLength {
		return fmt.Errorf("signature must be at most %d characters", api.MaxSignatureLength)
	}
	if c.tray && c.camera < 0 {
		return errors.New("--tray needs a local camera (--camera)")
	}
	return nil
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.bind, strconv.Itoa(c.port))
}

// localURL is where the host's own browser can reach the page.
func (c *Config) localURL() string {
	host := c.bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.port)) + "/"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blowout"
	}
	return filepath.Join(home, ".blowout")
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLOWOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blowout",
		Short:         "A birthday card you blow out with your mouth.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BLOWOUT_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BLOWOUT_PORT)")
	fs.StringVar(&cfg.dataDir, "data-dir", defaultDataDir(), "directory holding the settings database (env: BLOWOUT_DATA_DIR)")
	fs.StringVar(&cfg.staticDir, "static-dir", "", "serve the page from this directory instead of the embedded copy (env: BLOWOUT_STATIC_DIR)")
	fs.IntVar(&cfg.camera, "camera", -1, "local camera device id, -1 to let browsers supply landmarks (env: BLOWOUT_CAMERA)")
	fs.IntVar(&cfg.frameRate, "frame-rate", 30, "maximum landmark frames per second per guest (env: BLOWOUT_FRAME_RATE)")
	fs.StringVar(&cfg.signature, "signature", "", "sign the greeting, overriding the stored signature (env: BLOWOUT_SIGNATURE)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "URL encoded in the QR code (env: BLOWOUT_PUBLIC_URL)")
	fs.BoolVar(&cfg.tray, "tray", false, "show a system tray menu (env: BLOWOUT_TRAY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BLOWOUT_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BLOWOUT_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blowout v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
