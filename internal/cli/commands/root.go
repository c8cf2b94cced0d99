// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"keyfs/internal/profile"
	"keyfs/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// Persistent flags. Empty values keep the settings file value.
var (
	flagConfig    string
	flagStore     string
	flagRoot      string
	flagSeparator string
	flagLogLevel  string
	flagLogFile   string
	flagProfile   bool
)

var (
	// settings is loaded once per invocation by PersistentPreRunE.
	settings *server.Settings
	// profiler collects operation timings when --profile is set.
	profiler *profile.Recorder
	// logCloser releases the log file opened for this invocation.
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "keyfs",
	Short: "Hierarchical file tree over a flat key space",
	Long: `keyfs presents a flat, prefix-addressable key space as a file tree.

Paths are encoded into keys by replacing '/' with a separator character
(default '_'), so /docs/readme becomes the key _docs_readme. Directories exist
only in memory; files are keys in a SQLite store.

Use 'keyfs serve' to export the tree over NFSv3, or the file commands
(ls, cat, put, rm, mv, mkdir, stat, truncate) to work on the store directly.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if flagProfile && profiler != nil {
			if err := profiler.WriteTable(cmd.ErrOrStderr()); err != nil {
				return err
			}
		}
		if logCloser != nil {
			err := logCloser.Close()
			logCloser = nil
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("keyfs version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Settings file (default $KEYFS_CONFIG or ~/.keyfs/settings.yaml)")
	pf.StringVarP(&flagStore, "store", "s", "", "SQLite store file (overrides settings and $KEYFS_STORE)")
	pf.StringVar(&flagRoot, "root", "", "Key namespace of the mount root")
	pf.StringVar(&flagSeparator, "separator", "", "Character that replaces '/' in keys")
	pf.StringVar(&flagLogLevel, "logging", "", "Log level: trace, debug, info, warn, error, off")
	pf.StringVar(&flagLogFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.BoolVar(&flagProfile, "profile", false, "Print per-operation timings on exit")
}

// loadSettings resolves settings from file, environment and flags, and sets
// up logging.
func loadSettings(cmd *cobra.Command, args []string) error {
	// Skip initialization for help commands
	if cmd.Name() == "help" {
		return nil
	}

	s, err := server.LoadSettings(flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if flagStore != "" {
		s.Store = flagStore
	}
	if cmd.Flags().Changed("root") {
		s.Root = flagRoot
	}
	if flagSeparator != "" {
		s.Separator = flagSeparator
	}
	if flagLogLevel != "" {
		s.LogLevel = flagLogLevel
	}
	if flagLogFile != "" {
		s.LogFile = flagLogFile
	}
	if err := s.Validate(); err != nil {
		return err
	}

	closer, err := server.SetupLogging(s.LogLevel, s.LogFile)
	if err != nil {
		return err
	}
	logCloser = closer
	settings = s

	profiler = nil
	if flagProfile {
		profiler = profile.NewRecorder()
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
