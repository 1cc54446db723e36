package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full tool configuration. Values come from an optional YAML
// file and the environment; command-line flags override both.
type Config struct {
	// RepoPath is the repository to operate on. Defaults to the working
	// directory; git discovery walks up from there.
	RepoPath string `yaml:"repo_path" env:"GIT_RESIGN_REPO"`

	// SourceBranch is the branch whose history is rewritten and replaced.
	SourceBranch string `yaml:"source_branch" env:"GIT_RESIGN_SOURCE"`

	// WorkBranch is the temporary branch the rewritten history is built on.
	// It must not exist when the run starts.
	WorkBranch string `yaml:"work_branch" env:"GIT_RESIGN_WORK_BRANCH"`

	// Backend selects how git is driven: "cli" shells out to the git
	// executable, "native" uses go-git and an in-process signing key.
	Backend string `yaml:"backend" env:"GIT_RESIGN_BACKEND"`

	Signing SigningConfig `yaml:"signing"`
	Journal JournalConfig `yaml:"journal"`
	Swap    SwapConfig    `yaml:"swap"`

	// Watch enables the ref watcher that warns when the source branch moves
	// while the rewrite is running.
	Watch *bool `yaml:"watch" env:"GIT_RESIGN_WATCH"`
}

type SigningConfig struct {
	// KeyID selects the gpg key for the cli backend (git commit -S<id>).
	// Empty uses git's configured default.
	KeyID string `yaml:"key_id" env:"GIT_RESIGN_KEY_ID"`

	// KeyFile is an armored OpenPGP private key, required by the native
	// backend.
	KeyFile string `yaml:"key_file" env:"GIT_RESIGN_KEY_FILE"`

	// PassphraseEnv names the environment variable holding the key
	// passphrase. When unset and the key is encrypted, the tool prompts on
	// the terminal.
	PassphraseEnv string `yaml:"passphrase_env" env:"GIT_RESIGN_PASSPHRASE_ENV"`
}

type JournalConfig struct {
	// Path of the SQLite journal. Defaults to <gitdir>/git-resign.db.
	Path string `yaml:"path" env:"GIT_RESIGN_JOURNAL"`

	// ForceRestart acknowledges an unfinished previous run and starts anyway.
	ForceRestart bool `yaml:"force_restart" env:"GIT_RESIGN_FORCE_RESTART"`
}

type SwapConfig struct {
	// KeepBackup renames the old branch out of the way instead of force
	// deleting it. On by default.
	KeepBackup *bool `yaml:"keep_backup" env:"GIT_RESIGN_KEEP_BACKUP"`

	// BackupSuffix is appended to the old branch name for the backup ref.
	BackupSuffix string `yaml:"backup_suffix" env:"GIT_RESIGN_BACKUP_SUFFIX"`

	// AssumeYes skips the interactive confirmation before the swap.
	AssumeYes bool `yaml:"assume_yes" env:"GIT_RESIGN_YES"`
}

// Load reads the configuration file at path (optional; empty path skips the
// file) and the environment, then applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from environment: %w", err)
		}
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills in unset values.
func (c *Config) SetDefaults() {
	if c.RepoPath == "" {
		c.RepoPath = "."
	}
	if c.SourceBranch == "" {
		c.SourceBranch = "main"
	}
	if c.WorkBranch == "" {
		c.WorkBranch = "resign-work"
	}
	if c.Backend == "" {
		c.Backend = "cli"
	}
	if c.Swap.BackupSuffix == "" {
		c.Swap.BackupSuffix = "-unsigned"
	}
	if c.Swap.KeepBackup == nil {
		keep := true
		c.Swap.KeepBackup = &keep
	}
	if c.Watch == nil {
		watch := true
		c.Watch = &watch
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SourceBranch == c.WorkBranch {
		return fmt.Errorf("source branch and work branch must differ (both %q)", c.SourceBranch)
	}
	switch c.Backend {
	case "cli", "native":
	default:
		return fmt.Errorf("unknown backend %q (want cli or native)", c.Backend)
	}
	if c.Backend == "native" && c.Signing.KeyFile == "" {
		return fmt.Errorf("the native backend requires signing.key_file")
	}
	if c.Signing.KeyFile != "" {
		if _, err := os.Stat(c.Signing.KeyFile); err != nil {
			return fmt.Errorf("signing key file: %w", err)
		}
	}
	return nil
}

// Passphrase returns the passphrase from the configured environment
// variable, or ok=false when none is configured or set.
func (c *Config) Passphrase() (pass string, ok bool) {
	if c.Signing.PassphraseEnv == "" {
		return "", false
	}
	pass, ok = os.LookupEnv(c.Signing.PassphraseEnv)
	return pass, ok
}

// JournalPath resolves the journal location for a repository root, defaulting
// to the repository's .git directory.
func (c *Config) JournalPath(repoRoot string) string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(repoRoot, ".git", "git-resign.db")
}

// BackupName returns the backup ref name used for the old source branch.
func (c *Config) BackupName() string {
	return c.SourceBranch + c.Swap.BackupSuffix
}
