package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// globalOptions are the persistent flags shared by all subcommands.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", defaultConfigPath, "path to the config file (.toml, .yaml or .json)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", "", "log format override (text or json)")
}

// load reads the config and builds the operational logger.
func (o *globalOptions) load() (*ConfigManager, *logrus.Logger, error) {
	cfgMgr := NewConfigManager(o.configPath)
	if err := cfgMgr.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cfgMgr.Get()
	level, format := cfg.Log.Level, cfg.Log.Format
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	return cfgMgr, newLogger(level, format, os.Stderr), nil
}

// Entry point for the ignition access controller
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	run := newRunCmd(opts)
	root := &cobra.Command{
		Use:           "ignition",
		Short:         "Two-factor (face + password) ignition access controller",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run.RunE,
	}
	opts.bind(root.PersistentFlags())
	root.Flags().AddFlagSet(run.Flags())
	root.AddCommand(run, newProbeCmd(opts), newPasswdCmd(opts))
	return root
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the access controller (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMgr, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cfgMgr, log, simulate)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "use in-memory pins driven through the admin API instead of GPIO")
	return cmd
}

// runSystem wires hardware, event source, controller and admin API, and
// blocks until a termination signal or a confirmed emergency shutdown.  GPIO
// is released on every exit path.
func runSystem(ctx context.Context, cfgMgr *ConfigManager, log *logrus.Logger, simulate bool) error {
	cfg := cfgMgr.Get()

	var hw *Hardware
	if simulate {
		hw = NewSimHardware()
		if cfg.Admin.Listen == "" {
			log.Warn("simulated hardware without admin.listen: no way to inject button presses")
		}
	} else {
		var err error
		if hw, err = openHardware(cfg.Pins); err != nil {
			return fmt.Errorf("initialisation error: %w", err)
		}
	}
	defer func() {
		if err := hw.Release(); err != nil {
			log.WithError(err).Error("GPIO release incomplete")
		}
	}()

	password, err := NewHashedPassword(cfg.PasswordHash)
	if err != nil {
		return err
	}
	events := NewEventLogger(cfg.Log.EventFile)
	clock := clockwork.NewRealClock()
	controller := NewController(cfg.ControllerSettings(), ControllerDeps{
		Face:     NewFaceClient(cfg.FaceService.URL, time.Duration(cfg.FaceService.TimeoutSecs)*time.Second),
		Operator: NewConsoleOperator(os.Stdin, os.Stdout),
		Password: password,
		Relay:    NewActuator(hw.Relay, clock),
		Buzzer:   NewActuator(hw.Buzzer, clock),
		Clock:    clock,
		Logger:   log,
		Events:   events,
		Alerts:   initAlertHandlers(cfg),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	source := NewEventSource(hw.Inputs(), time.Duration(cfg.DebounceMS)*time.Millisecond, log)
	go source.Run(ctx, func(in Input) { controller.Post(in) })

	if cfg.Admin.Listen != "" {
		srv := NewServer(cfgMgr, controller, hw, events, log)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.WithError(err).Error("admin API stopped")
			}
		}()
	}

	err = controller.Run(ctx)
	cancel()
	if errors.Is(err, ErrShutdown) {
		log.Info("emergency shutdown: releasing GPIO and exiting")
		return nil
	}
	log.Info("security system stopped")
	return err
}

func newProbeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Send one face-unlock request and print the verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMgr, _, err := opts.load()
			if err != nil {
				return err
			}
			cfg := cfgMgr.Get()
			client := NewFaceClient(cfg.FaceService.URL, time.Duration(cfg.FaceService.TimeoutSecs)*time.Second)
			verdict, err := client.RequestFaceUnlock(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "verdict: %s\n", verdict)
			return err
		},
	}
}

func newPasswdCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Set the unlock password stored (hashed) in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMgr, _, err := opts.load()
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			first, err := readSecret(in, out, "New password: ")
			if err != nil {
				return err
			}
			second, err := readSecret(in, out, "Repeat password: ")
			if err != nil {
				return err
			}
			if first != second {
				return errors.New("passwords do not match")
			}
			if first == "" {
				return errors.New("password must not be empty")
			}
			hash, err := hashPassword(first)
			if err != nil {
				return err
			}
			if err := cfgMgr.Update(func(c *Config) error {
				c.PasswordHash = hash
				return nil
			}); err != nil {
				return err
			}
			fmt.Fprintf(out, "password updated in %s\n", cfgMgr.Path())
			return nil
		},
	}
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
