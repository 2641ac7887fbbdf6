package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

var (
	exitProcess = os.Exit
	// osExit is swapped in tests.
	osExit = exitProcess
)

// ExitWithCode logs err with foundry exit code metadata and exits. With a nil
// logger it falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		writeFatal(os.Stderr, exitCode, msg, err)
		osExit(int(exitCode))
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}
	fields = append(fields, envelopeFields(err)...)
	logger.Error(msg, append(fields, zap.Error(unwrapEnvelope(err)))...)

	osExit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	code := writeFatal(os.Stderr, exitCode, msg, err)
	osExit(code)
}

// writeFatal prints the failure and exit code description, returning the
// process exit code.
func writeFatal(w io.Writer, exitCode foundry.ExitCode, msg string, err error) int {
	switch envelope, isEnvelope := err.(*errors.ErrorEnvelope); {
	case err == nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s\n", msg)
	case isEnvelope && envelope != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if original := unwrapEnvelope(err); original != err {
			_, _ = fmt.Fprintf(w, "Underlying error: %v\n", original)
		}
	default:
		_, _ = fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		_, _ = fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
		return int(exitCode)
	}
	_, _ = fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	return info.Code
}

func envelopeFields(err error) []zap.Field {
	envelope, ok := err.(*errors.ErrorEnvelope)
	if !ok || envelope == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.String("error_message", envelope.Message),
		zap.String("correlation_id", envelope.CorrelationID),
	}
	if envelope.Context != nil {
		fields = append(fields, zap.Any("error_context", envelope.Context))
	}
	return fields
}

// unwrapEnvelope returns the error an envelope was built from, if recorded.
func unwrapEnvelope(err error) error {
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		if original, ok := envelope.Original.(error); ok && original != nil {
			return original
		}
	}
	return err
}
