// Package cli implements guardctl, the operator command line for the guardian
// backend. Every command is a thin call to the HTTP API.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is stamped at build time.
var Version = "dev"

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 15 * time.Second
	envPrefix      = "GUARDIAN"
)

// Settings is the resolved CLI configuration.
type Settings struct {
	Server  string        `yaml:"server" mapstructure:"server"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Output  string        `yaml:"output" mapstructure:"output"`
}

// app carries state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
	errOut  io.Writer
}

// Execute runs guardctl with os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(context.Background())
}

// NewRootCommand builds the command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "guardctl",
		Short: "guardctl - operate a guardian safety backend",
		Long: `guardctl talks to a running guardian backend over HTTP.

It manages trusted contacts, triggers SOS, drives location tracking,
asks the safety assistant and runs the check-in timer.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.guardian/config.yaml)")
	flags.String("server", defaultServer, "backend base URL")
	flags.Duration("timeout", defaultTimeout, "request timeout")
	flags.StringP("output", "o", "yaml", "output format: yaml or json")

	_ = a.v.BindPFlag("server", flags.Lookup("server"))
	_ = a.v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = a.v.BindPFlag("output", flags.Lookup("output"))

	root.AddCommand(
		a.versionCommand(),
		a.configCommand(),
		a.contactsCommand(),
		a.sosCommand(),
		a.copyCommand(),
		a.locateCommand(),
		a.trackCommand(),
		a.askCommand(),
		a.checkinCommand(),
	)
	return root
}

// initConfig reads the config file and GUARDIAN_* variables.
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".guardian"))
		}
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("config")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) settings() Settings {
	s := Settings{
		Server:  a.v.GetString("server"),
		Timeout: a.v.GetDuration("timeout"),
		Output:  a.v.GetString("output"),
	}
	if s.Server == "" {
		s.Server = defaultServer
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	return s
}

func (a *app) client() *Client {
	s := a.settings()
	return NewClient(s.Server, s.Timeout)
}

// print renders v in the configured output format.
func (a *app) print(v any) error {
	if a.settings().Output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// round trip through JSON so yaml keys follow the API field names
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = a.out.Write(data)
	return err
}
