package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the exit code for it
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if stderrors.Is(err, context.Canceled) {
		fmt.Fprintf(h.out, "Error: interrupted\n")
		return 130
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// handleReconcilerError prints the message, context and suggestion of err
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles errors that are not ReconcilerErrors, mostly flag parsing
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Statement lines need carrier_name, statement_id, line_id, policy_number, insured_name,
  effective_date, txn_date, written_premium, gross_commission, txn_type
• Bank feeds need bank_txn_id, posted_date, amount, counterparty, memo, reference
• Expected commissions need policy_number, producer_id, office, lob, expected_commission, effective_date
• Dates are YYYY-MM-DD and amounts are plain decimals; files must be UTF-8`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Verify date formats use YYYY-MM-DD
• Ensure amounts are decimal numbers without currency symbols`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Check RECONCILER_* environment variables`

	case errors.CategoryNotFound:
		return `Not found help:
• Use 'reconciler runs' to list match runs
• Use 'reconciler exceptions list' to see which lines have exceptions`

	case errors.CategoryConflict:
		return `Conflict help:
• Re-read the record and retry with its current version
• Resolved exceptions stay resolved; create a new run to re-match`

	case errors.CategoryStorage:
		return `Storage error help:
• Check the --db path and that no other writer holds the database
• Nothing was committed; the operation can be retried`

	default:
		return ""
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
