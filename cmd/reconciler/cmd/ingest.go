package cmd

import (
	"context"
	"fmt"
	"os"

	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

// inputFlags are the three CSV paths shared by ingest and reconcile
type inputFlags struct {
	statements string
	bank       string
	expected   string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.statements, "statements", "s", "", "carrier statement lines CSV (default data.statements)")
	cmd.Flags().StringVarP(&f.bank, "bank", "b", "", "bank feed CSV (default data.bank)")
	cmd.Flags().StringVarP(&f.expected, "expected", "e", "", "expected commissions CSV (default data.expected)")
}

// request fills unset paths from the data.* settings and checks the files exist
func (f *inputFlags) request(c *cli) (reconciler.IngestRequest, error) {
	req := reconciler.IngestRequest{
		Statements: firstNonEmpty(f.statements, c.settings.Data.Statements),
		Bank:       firstNonEmpty(f.bank, c.settings.Data.Bank),
		Expected:   firstNonEmpty(f.expected, c.settings.Data.Expected),
		Actor:      c.settings.Actor,
	}
	inputs := []struct {
		path, flag, description string
	}{
		{req.Statements, "statements", "statement lines file"},
		{req.Bank, "bank", "bank feed file"},
		{req.Expected, "expected", "expected commissions file"},
	}
	for _, in := range inputs {
		if in.path == "" {
			return req, errors.ValidationError(errors.CodeMissingField, in.flag, nil, nil).
				WithSuggestion(fmt.Sprintf("Pass --%s or set data.%s", in.flag, in.flag))
		}
		if err := validateFileExists(in.path, in.description); err != nil {
			return req, err
		}
	}
	return req, nil
}

func newIngestCmd(c *cli) *cobra.Command {
	var inputs inputFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load statement lines, bank transactions and expected commissions",
		Long: `Ingest parses the three input files and stores them in one transaction.
Rows already stored with identical content are skipped; a row whose id is
already stored with different content fails the whole ingest.

Examples:
  reconciler ingest --statements statement_lines.csv --bank bank_feed.csv --expected expected.csv
  RECONCILER_DATA_STATEMENTS=s.csv RECONCILER_DATA_BANK=b.csv RECONCILER_DATA_EXPECTED=e.csv reconciler ingest`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			req, err := inputs.request(c)
			if err != nil {
				return err
			}
			result, err := a.service.Ingest(ctx, req)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.render(result)
			}
			w := a.stdout
			fmt.Fprintf(w, "Statement lines: %d inserted, %d skipped\n", result.StatementLines.Inserted, result.StatementLines.Skipped)
			fmt.Fprintf(w, "Bank transactions: %d inserted, %d skipped\n", result.BankTxns.Inserted, result.BankTxns.Skipped)
			fmt.Fprintf(w, "Expected commissions: %d inserted, %d skipped\n", result.Expected.Inserted, result.Expected.Skipped)
			return nil
		}),
	}
	inputs.register(cmd)
	return cmd
}

// validateFileExists checks that filePath names a readable regular file
func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
