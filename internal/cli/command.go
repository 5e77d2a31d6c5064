// Package cli implements the sendmail-compatible command line shared by the
// attomail binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/infodancer/attomail/internal/config"
	"github.com/infodancer/attomail/internal/deliver"
	"github.com/infodancer/attomail/internal/logging"
	"github.com/infodancer/attomail/internal/metrics"
	"github.com/infodancer/attomail/internal/privdrop"
)

// Program names accepted as argv[0]. bsd-mailx invokes its MTA as send-mail.
var (
	DeliveryPrograms = []string{"attomail", "sendmail", "send-mail"}
	InspectPrograms  = []string{"attomail-inspect", "attomail", "sendmail", "send-mail"}
)

// ignoredFlags are accepted for sendmail compatibility and take a value.
var ignoredFlags = []struct {
	name, shorthand, usage string
}{
	{"option", "o", "set an option"},
	{"protocol", "p", "set the protocol"},
	{"queue", "q", "set the queue interval"},
	{"r-sender", "r", "obsolete form of -f"},
	{"v-sender", "v", "obsolete form of -f"},
	{"body-type", "B", "set the body type"},
	{"alt-config", "C", "use an alternate configuration file"},
	{"full-name", "F", "set the sender's full name"},
	{"dsn", "N", "set delivery status notification conditions"},
	{"long-option", "O", "set an option"},
	{"return", "R", "set how much of a bounced message is returned"},
	{"submission", "U", "initial user submission"},
	{"envelope-id", "V", "set the envelope id"},
}

// ignoredBools are accepted for sendmail compatibility and take no value.
var ignoredBools = []struct {
	name, shorthand, usage string
}{
	{"ignore-dots", "i", "ignore lines containing only a dot"},
	{"no-alias", "n", "do not expand aliases"},
	{"read-recipients", "t", "read recipients from the message"},
}

// Options configures a command. Zero values mean the production default.
type Options struct {
	// Programs lists the accepted argv[0] basenames.
	Programs []string
	// ConfigPath is the configuration file. It is fixed at build time.
	ConfigPath string
	Version    string

	// Inspect keeps the current privileges and writes the delivered
	// message to Stdout instead of the Maildir.
	Inspect bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Now    func() time.Time

	Resolver deliver.Resolver
	Dropper  deliver.Dropper
}

func (o *Options) setDefaults() {
	if len(o.Programs) == 0 {
		o.Programs = DeliveryPrograms
	}
	if o.ConfigPath == "" {
		o.ConfigPath = config.DefaultPath
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type cmdFlags struct {
	sender  string
	mode    string
	logfile string
}

// Run executes the command for the full argument vector and returns the
// process exit status.
func Run(ctx context.Context, args []string, opts Options) int {
	opts.setDefaults()

	if len(args) == 0 {
		fmt.Fprintln(opts.Stderr, "attomail: no program name provided")
		return ExitUsage
	}
	prog, err := ProgramName(args[0], opts.Programs)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "attomail: %v\n", err)
		return ExitUsage
	}

	cmd := NewCommand(prog, opts)
	cmd.SetArgs(args[1:])
	err = cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "%s: %v\n", prog, err)
	}
	return ExitCode(err)
}

// ProgramName returns the basename of argv0 if it is one of valid.
func ProgramName(argv0 string, valid []string) (string, error) {
	name := filepath.Base(argv0)
	if !slices.Contains(valid, name) {
		return "", fmt.Errorf("%w: invalid program name %q, only %s are allowed",
			errUsage, argv0, strings.Join(valid, ", "))
	}
	return name, nil
}

// NewCommand builds the cobra command for prog.
func NewCommand(prog string, opts Options) *cobra.Command {
	opts.setDefaults()
	f := &cmdFlags{}

	cmd := &cobra.Command{
		Use:           prog + " [flags] [RECIPIENT]",
		Short:         "Deliver a message from stdin into a local Maildir",
		Long:          "Reads one message on standard input, adds trace headers and commits it to the configured Maildir after dropping privileges to the Maildir owner. Most flags exist only for sendmail compatibility and are ignored.",
		Version:       opts.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: at most one recipient may be given, got %d", errUsage, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, f, opts)
		},
	}
	cmd.SetIn(opts.Stdin)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	fs := cmd.Flags()
	fs.StringVarP(&f.sender, "sender", "f", "", "envelope sender `ADDRESS`; defaults to the invoking user")
	fs.StringVarP(&f.mode, "mode", "b", "m", "delivery `MODE`; only m (read the message from stdin) is supported")
	fs.StringVarP(&f.logfile, "logfile", "X", "", "log debug messages to `LOGFILE`; only /dev/stderr and - are allowed")
	for _, b := range ignoredBools {
		fs.BoolP(b.name, b.shorthand, false, "ignored ("+b.usage+")")
	}
	for _, o := range ignoredFlags {
		fs.StringArrayP(o.name, o.shorthand, nil, "ignored ("+o.usage+")")
	}
	fs.SortFlags = false

	return cmd
}

func run(cmd *cobra.Command, args []string, f *cmdFlags, opts Options) error {
	fs := cmd.Flags()

	if f.mode != "m" {
		return fmt.Errorf("%w: -b%s is not supported, only -bm", errUsage, f.mode)
	}

	var overrides config.Flags
	if fs.Changed("logfile") {
		if err := logging.ValidateLogfile(f.logfile); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		overrides.LogLevel = "debug"
	}

	// An explicitly empty address is refused rather than replaced by the default.
	if fs.Changed("sender") && f.sender == "" {
		return addressError("empty sender")
	}
	var recipient string
	if len(args) == 1 {
		if args[0] == "" {
			return addressError("empty recipient")
		}
		recipient = args[0]
	}

	cfg, err := config.LoadAndValidate(opts.ConfigPath)
	if err != nil {
		return &deliver.StageError{Stage: deliver.StageConfig, Err: err}
	}
	cfg = config.ApplyFlags(cfg, &overrides)

	logger := logging.New(opts.Stderr, cfg.LogLevel).With(slog.String("program", cmd.Name()))
	ctx := logging.NewContext(cmd.Context(), logger)
	logger.Debug("configuration loaded",
		slog.String("path", opts.ConfigPath),
		slog.String("maildir", cfg.Maildir),
		slog.String("user", cfg.UserName))
	ignored := ignoredInUse(fs)
	if len(ignored) > 0 {
		logger.Debug("ignoring sendmail flags", slog.Any("flags", ignored))
	}

	var (
		collector metrics.Collector = &metrics.NoopCollector{}
		sink      metrics.Sink      = &metrics.NoopSink{}
		dropper   deliver.Dropper
		target    deliver.Target
	)
	if opts.Inspect {
		target = deliver.SinkTarget{W: opts.Stdout}
	} else {
		collector, sink = metrics.New(metrics.Config{Textfile: cfg.Metrics.Textfile})
		dropper = opts.Dropper
		if dropper == nil {
			dropper = privdrop.New(nil)
		}
		target = deliver.MaildirTarget{CreateDirs: cfg.ShouldCreateMaildirs()}
	}

	d := deliver.New(dropper, collector)
	if opts.Resolver != nil {
		d.Resolver = opts.Resolver
	}

	_, err = d.Deliver(ctx, deliver.Request{
		Owner:     cfg.UserName,
		Mailbox:   cfg.Maildir,
		Sender:    f.sender,
		Recipient: recipient,
		Now:       opts.Now(),
		Input:     opts.Stdin,
		Target:    target,
	})
	if err != nil {
		logger.Debug("delivery failed", slog.String("error", err.Error()))
	}

	if ferr := sink.Flush(); ferr != nil {
		logger.Warn("writing metrics failed", slog.String("error", ferr.Error()))
	}
	return err
}

func addressError(detail string) error {
	return &deliver.StageError{
		Stage: deliver.StageAddress,
		Err:   fmt.Errorf("%w: %s", deliver.ErrImplausibleAddress, detail),
	}
}

func ignoredInUse(fs *pflag.FlagSet) []string {
	var used []string
	fs.Visit(func(fl *pflag.Flag) {
		if strings.HasPrefix(fl.Usage, "ignored") {
			used = append(used, "-"+fl.Shorthand)
		}
	})
	return used
}
