package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/modkit/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("modkit", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
ModKit - A mod loading and lifecycle runtime.

Usage:
  modkit [options] [MODS_PATH]

Arguments:
  MODS_PATH
    Path to the directory whose subdirectories are mods.

Options:
`)
		flagSet.PrintDefaults()
	}

	modsFlag := flagSet.String("mods", "", "Path to the mods directory.")
	mFlag := flagSet.String("m", "", "Path to the mods directory (shorthand).")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	tickIntervalFlag := flagSet.Duration("tick-interval", 100*time.Millisecond, "Pause between update ticks.")
	tickCountFlag := flagSet.Int("ticks", -1, "Number of update ticks to run. 0 loads and exits, negative runs until interrupted.")
	preloadFlag := flagSet.Bool("preload", false, "Eagerly load every asset after its mod loads.")
	watchFlag := flagSet.Bool("watch", false, "Hot-reload mods and refresh assets on file changes.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *modsFlag != "" {
		path = *modsFlag
	} else if *mFlag != "" {
		path = *mFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Mods path determined.", "path", path)

	if path == "" {
		slog.Debug("No mods path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ModsRoot:     path,
		StatusPort:   *statusPortFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		TickInterval: *tickIntervalFlag,
		TickCount:    *tickCountFlag,
		Preload:      *preloadFlag,
		Watch:        *watchFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
