package cmd

import (
	"os"
	"testing"
)

// clearResignEnv shields the tests from GIT_RESIGN_* variables in the
// operator's environment; t.Setenv registers the restore, the unset makes the
// variable truly absent for cleanenv.
func clearResignEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GIT_RESIGN_REPO",
		"GIT_RESIGN_SOURCE",
		"GIT_RESIGN_WORK_BRANCH",
		"GIT_RESIGN_BACKEND",
		"GIT_RESIGN_KEY_ID",
		"GIT_RESIGN_KEY_FILE",
		"GIT_RESIGN_PASSPHRASE_ENV",
		"GIT_RESIGN_JOURNAL",
		"GIT_RESIGN_FORCE_RESTART",
		"GIT_RESIGN_KEEP_BACKUP",
		"GIT_RESIGN_BACKUP_SUFFIX",
		"GIT_RESIGN_YES",
		"GIT_RESIGN_WATCH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	clearResignEnv(t)

	f := cliFlags{
		repoPath:     "/somewhere",
		source:       "develop",
		workBranch:   "scratch",
		keyID:        "AABBCCDD",
		journalPath:  "/tmp/j.db",
		noBackup:     true,
		noWatch:      true,
		forceRestart: true,
	}
	cfg, err := loadConfig(f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.RepoPath != "/somewhere" || cfg.SourceBranch != "develop" || cfg.WorkBranch != "scratch" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Signing.KeyID != "AABBCCDD" || cfg.Journal.Path != "/tmp/j.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if *cfg.Swap.KeepBackup || *cfg.Watch {
		t.Fatal("no-backup and no-watch must override the defaults")
	}
	if !cfg.Journal.ForceRestart {
		t.Fatal("force-restart not applied")
	}
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	clearResignEnv(t)
	t.Setenv("GIT_RESIGN_SOURCE", "from-env")
	t.Setenv("GIT_RESIGN_KEY_ID", "ENVKEY")

	cfg, err := loadConfig(cliFlags{source: "from-flag"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.SourceBranch != "from-flag" {
		t.Fatalf("source = %q, want the flag value", cfg.SourceBranch)
	}
	if cfg.Signing.KeyID != "ENVKEY" {
		t.Fatalf("key id = %q, want the environment value", cfg.Signing.KeyID)
	}
}

func TestLoadConfig_UnsetFlagsKeepDefaults(t *testing.T) {
	clearResignEnv(t)

	cfg, err := loadConfig(cliFlags{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.SourceBranch != "main" || cfg.WorkBranch != "resign-work" || cfg.Backend != "cli" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !*cfg.Swap.KeepBackup || !*cfg.Watch {
		t.Fatal("defaults must keep backup and watch enabled")
	}
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	clearResignEnv(t)

	if _, err := loadConfig(cliFlags{backendName: "porcelain"}); err == nil {
		t.Fatal("expected validation error")
	}
}
