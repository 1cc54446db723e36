// Package cmd wires configuration, the signing credential, the git backend
// and the journal into the rewrite pipeline, and owns everything interactive:
// flag parsing, the passphrase prompt and the pre-swap confirmation.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/term"

	"github.com/thiagokokada/git-resign/internal/buildinfo"
	"github.com/thiagokokada/git-resign/internal/config"
	"github.com/thiagokokada/git-resign/internal/git"
	"github.com/thiagokokada/git-resign/internal/git/backend"
	"github.com/thiagokokada/git-resign/internal/journal"
	"github.com/thiagokokada/git-resign/internal/signer"
)

func Run() error {
	return run(os.Args[1:])
}

type cliFlags struct {
	configPath    string
	source        string
	workBranch    string
	backendName   string
	keyID         string
	keyFile       string
	passphraseEnv string
	journalPath   string
	noBackup      bool
	noWatch       bool
	forceRestart  bool
	yes           bool
	verbose       bool
	repoPath      string
}

func run(args []string) error {
	app := kingpin.New("git-resign",
		"Rewrite a branch so every commit carries a fresh cryptographic signature, then swap it in place of the original.")
	app.HelpFlag.Short('h')

	var f cliFlags
	app.Flag("config", "path to a YAML config file").Short('c').StringVar(&f.configPath)
	app.Flag("source", "branch whose history is rewritten").Short('s').StringVar(&f.source)
	app.Flag("work-branch", "temporary branch the rewritten history is built on").StringVar(&f.workBranch)
	app.Flag("backend", "git driver: cli (shells out to git) or native (go-git)").StringVar(&f.backendName)
	app.Flag("key-id", "gpg key id for the cli backend (git commit -S<id>)").StringVar(&f.keyID)
	app.Flag("key-file", "armored OpenPGP private key file (required by the native backend)").StringVar(&f.keyFile)
	app.Flag("passphrase-env", "environment variable holding the key passphrase").StringVar(&f.passphraseEnv)
	app.Flag("journal", "path of the SQLite run journal").StringVar(&f.journalPath)
	app.Flag("no-backup", "delete the old branch instead of keeping a backup").BoolVar(&f.noBackup)
	app.Flag("no-watch", "disable the watcher that warns when the source branch moves mid-run").BoolVar(&f.noWatch)
	app.Flag("force-restart", "start even when the journal records an unfinished previous run").BoolVar(&f.forceRestart)
	app.Flag("yes", "skip the confirmation prompt before the branch swap").Short('y').BoolVar(&f.yes)
	app.Flag("verbose", "enable debug logging").Short('v').BoolVar(&f.verbose)
	showVersion := app.Flag("version", "print version information and exit").Bool()
	app.Arg("path", "repository path (defaults to the working directory)").StringVar(&f.repoPath)

	if _, err := app.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(buildinfo.Version())
		return nil
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runPipeline(ctx, cfg, f.yes || cfg.Swap.AssumeYes)
}

// loadConfig layers the three sources: YAML file, environment, then flags.
// Flags win; boolean flags only push their setting on, so an unset flag never
// overrides the file.
func loadConfig(f cliFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.repoPath != "" {
		cfg.RepoPath = f.repoPath
	}
	if f.source != "" {
		cfg.SourceBranch = f.source
	}
	if f.workBranch != "" {
		cfg.WorkBranch = f.workBranch
	}
	if f.backendName != "" {
		cfg.Backend = f.backendName
	}
	if f.keyID != "" {
		cfg.Signing.KeyID = f.keyID
	}
	if f.keyFile != "" {
		cfg.Signing.KeyFile = f.keyFile
	}
	if f.passphraseEnv != "" {
		cfg.Signing.PassphraseEnv = f.passphraseEnv
	}
	if f.journalPath != "" {
		cfg.Journal.Path = f.journalPath
	}
	if f.noBackup {
		keep := false
		cfg.Swap.KeepBackup = &keep
	}
	if f.noWatch {
		watch := false
		cfg.Watch = &watch
	}
	if f.forceRestart {
		cfg.Journal.ForceRestart = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, assumeYes bool) error {
	sgn, err := buildSigner(cfg)
	if err != nil {
		return err
	}
	b, err := backend.Open(backend.Kind(cfg.Backend), cfg.RepoPath, sgn)
	if err != nil {
		return err
	}
	jnl, err := journal.Open(cfg.JournalPath(b.RepoPath()))
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	svc, err := git.New(b, jnl, git.Options{
		SourceBranch: cfg.SourceBranch,
		WorkBranch:   cfg.WorkBranch,
		KeepBackup:   *cfg.Swap.KeepBackup,
		BackupName:   cfg.BackupName(),
		ForceRestart: cfg.Journal.ForceRestart,
		Watch:        *cfg.Watch,
	})
	if err != nil {
		return err
	}

	if err := svc.Preflight(); err != nil {
		return err
	}
	total, err := svc.Enumerate()
	if err != nil {
		return err
	}
	slog.Info("rewriting branch",
		slog.String("source", cfg.SourceBranch),
		slog.String("work", cfg.WorkBranch),
		slog.Int("commits", total),
	)
	if err := svc.Rewrite(ctx); err != nil {
		return err
	}

	report, err := svc.Verify()
	if err != nil {
		return err
	}
	fmt.Println()
	report.Render(os.Stdout)
	if !report.OK() {
		_ = svc.Abort(ctx)
		return fmt.Errorf("verification failed; %q left in place for inspection, %q untouched",
			cfg.WorkBranch, cfg.SourceBranch)
	}

	if !assumeYes && !confirmSwap(cfg) {
		if err := svc.Abort(ctx); err != nil {
			return err
		}
		fmt.Printf("swap skipped; the rewritten history stays on %q\n", cfg.WorkBranch)
		return nil
	}
	if err := svc.Swap(ctx); err != nil {
		return err
	}
	if *cfg.Swap.KeepBackup {
		fmt.Printf("done: %q rewritten and signed, old history kept as %q\n", cfg.SourceBranch, cfg.BackupName())
	} else {
		fmt.Printf("done: %q rewritten and signed\n", cfg.SourceBranch)
	}
	return nil
}

// buildSigner picks the signing credential: a key file when configured (the
// native backend requires one), otherwise gpg via git with an optional key id.
func buildSigner(cfg *config.Config) (signer.Signer, error) {
	if cfg.Signing.KeyFile == "" {
		return signer.GPGConfig{ID: cfg.Signing.KeyID}, nil
	}
	sgn, err := signer.LoadFile(cfg.Signing.KeyFile, passphraseSource(cfg))
	if err != nil {
		return nil, err
	}
	if id := signer.Identity(sgn); id != "" {
		slog.Debug("loaded signing key", slog.String("identity", id), slog.String("key", sgn.KeyID()))
	}
	return sgn, nil
}

// passphraseSource prefers the configured environment variable and falls back
// to a terminal prompt. Only invoked for encrypted keys.
func passphraseSource(cfg *config.Config) signer.PassphraseFunc {
	return func() ([]byte, error) {
		if pass, ok := cfg.Passphrase(); ok {
			return []byte(pass), nil
		}
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("key %s is encrypted: set %s or run on a terminal",
				cfg.Signing.KeyFile, passphraseEnvHint(cfg))
		}
		fmt.Fprintf(os.Stderr, "passphrase for %s: ", cfg.Signing.KeyFile)
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return pass, nil
	}
}

func passphraseEnvHint(cfg *config.Config) string {
	if cfg.Signing.PassphraseEnv != "" {
		return cfg.Signing.PassphraseEnv
	}
	return "signing.passphrase_env"
}

func confirmSwap(cfg *config.Config) bool {
	backup := "the old branch will be deleted"
	if *cfg.Swap.KeepBackup {
		backup = fmt.Sprintf("the old branch will be kept as %q", cfg.BackupName())
	}
	fmt.Printf("\nreplace %q with the rewritten history (%s)? [y/N] ", cfg.SourceBranch, backup)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
