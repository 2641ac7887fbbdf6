package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

var (
	// CLILogger is used by one-shot CLI commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger is used by the relay server (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger. profile selects the sink
// format: "simple" writes human-readable console lines, anything else JSON.
func InitServerLogger(serviceName, logLevel, profile, namespace string) {
	level := parseLogLevel(logLevel)

	staticFields := make(map[string]any)
	if namespace != "" {
		staticFields["namespace"] = namespace
	}

	loggerProfile := logging.ProfileStructured
	format := "json"
	if strings.EqualFold(strings.TrimSpace(profile), "simple") {
		loggerProfile = logging.ProfileSimple
		format = "console"
	}

	config := &logging.LoggerConfig{
		Profile:      loggerProfile,
		DefaultLevel: level,
		Service:      serviceName,
		Environment:  "production",
		StaticFields: staticFields,
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: format,
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
	if loggerProfile == logging.ProfileStructured {
		config.Middleware = []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		}
	}

	logger, err := logging.New(config)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

// Server logging helpers. They are no-ops until InitServerLogger runs, which
// keeps library packages usable from tests without logger setup.

func Debug(msg string, fields ...zap.Field) {
	if ServerLogger != nil {
		ServerLogger.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...zap.Field) {
	if ServerLogger != nil {
		ServerLogger.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if ServerLogger != nil {
		ServerLogger.Warn(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if ServerLogger != nil {
		ServerLogger.Error(msg, fields...)
	}
}

// parseLogLevel converts string log level to logging severity string
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr exits with a semantic exit code before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: %s (exit code: %d)\n", msg, exitCode)
		}
		os.Exit(int(exitCode))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}
