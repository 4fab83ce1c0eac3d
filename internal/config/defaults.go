package config

const (
	defaultStagingDir          = ".staging"
	defaultArtifactPath        = "src/services/staticData.ts"
	defaultLockTimeoutSeconds  = 300
	defaultLockPollIntervalMS  = 1000
	defaultLockOwner           = "import-agent"
	defaultBackupKeep          = 5
	defaultCommandTimeoutSecs  = 900
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultConfigPath          = "~/.config/stage/config.toml"
	defaultProjectConfigName   = "stage.toml"
	defaultHistoryDatabaseName = ".import-history.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:   defaultStagingDir,
			ArtifactPath: defaultArtifactPath,
		},
		Lock: Lock{
			TimeoutSeconds:     defaultLockTimeoutSeconds,
			PollIntervalMillis: defaultLockPollIntervalMS,
			Owner:              defaultLockOwner,
		},
		Backup: Backup{
			Keep: defaultBackupKeep,
		},
		Commands: Commands{
			Build: []string{"npm", "run", "build"},
			Test:  []string{"npm", "run", "test:e2e:tier1"},
			Commit: [][]string{
				{"git", "add", "-A"},
				{"git", "commit", "-m", "{message}"},
			},
			TimeoutSeconds: defaultCommandTimeoutSecs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
