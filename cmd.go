package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mapbingo/server/internal/config"
)

// flagOverrides holds the command-line knobs. Everything here can also come
// from MAPBINGO_* environment variables; an explicit flag wins.
type flagOverrides struct {
	addr         string
	logLevel     string
	logPath      string
	mapSourceURL string
	databaseURL  string
	archiveDir   string
}

func newCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MAPBINGO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := &flagOverrides{}

	cmd := &cobra.Command{
		Use:           "mapbingo-server",
		Short:         "Session coordination server for multiplayer map bingo.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyOverrides(cfg, cmd.Flags(), flags)
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&flags.addr, "addr", "a", config.DefaultAddr, "address to listen on (env: MAPBINGO_ADDR)")
	fs.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "log verbosity: debug, info, warn, error (env: MAPBINGO_LOG_LEVEL)")
	fs.StringVar(&flags.logPath, "log-path", config.DefaultLogPath, "log file path, empty for stdout only (env: MAPBINGO_LOG_PATH)")
	fs.StringVar(&flags.mapSourceURL, "map-source-url", "", "base URL of the map provider (env: MAPBINGO_MAP_SOURCE_URL)")
	fs.StringVar(&flags.databaseURL, "database-url", "", "postgres URL for match history, empty disables persistence (env: MAPBINGO_DATABASE_URL)")
	fs.StringVar(&flags.archiveDir, "archive-dir", "", "directory for match archives, empty disables archiving (env: MAPBINGO_ARCHIVE_DIR)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mapbingo-server v{{.Version}}\n")

	return cmd
}

func applyOverrides(cfg *config.Config, fs *pflag.FlagSet, flags *flagOverrides) {
	if fs.Changed("addr") {
		cfg.Address = flags.addr
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if fs.Changed("log-path") {
		cfg.Logging.Path = flags.logPath
	}
	if fs.Changed("map-source-url") {
		cfg.MapSourceURL = flags.mapSourceURL
	}
	if fs.Changed("database-url") {
		cfg.DatabaseURL = flags.databaseURL
	}
	if fs.Changed("archive-dir") {
		cfg.ArchiveDir = flags.archiveDir
	}
}
