package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// RenderSafely renders value, retrying as JSON when the table rendering fails
func (srg *SafeReportGenerator) RenderSafely(value interface{}, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"type":   fmt.Sprintf("%T", value),
		"output": getWriterDescription(writer),
	})

	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	err := srg.Render(value, writer)
	if err == nil {
		log.Debug("Rendered output")
		return nil
	}
	if errors.IsCategory(err, errors.CategoryValidation) || srg.config.Format == FormatJSON {
		log.WithError(err).Error("Rendering failed")
		return srg.wrapRenderError(err)
	}

	log.WithError(err).Warn("Table rendering failed, falling back to JSON")
	if fallbackErr := srg.renderJSON(value, writer); fallbackErr != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"render fallback",
			fmt.Errorf("both table and json rendering failed: table=%v, json=%v", err, fallbackErr),
		)
	}
	return nil
}

// RenderToFile renders value into path. When path cannot be written the output
// goes to a sibling backup file and its path is returned.
func (srg *SafeReportGenerator) RenderToFile(value interface{}, path string) (string, error) {
	written, err := srg.writeFile(path, value)
	if err == nil {
		return written, nil
	}
	if !isFileError(err) {
		return "", srg.wrapRenderError(err)
	}

	backupPath := generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).WithError(err).Warn("Output file not writable, using backup location")

	written, backupErr := srg.writeFile(backupPath, value)
	if backupErr != nil {
		return "", errors.FileError(errors.CodeFilePermission, path,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, backupErr))
	}
	return written, nil
}

func (srg *SafeReportGenerator) writeFile(path string, value interface{}) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := srg.RenderSafely(value, file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// wrapRenderError wraps rendering errors with context
func (srg *SafeReportGenerator) wrapRenderError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "render", err).
		WithSuggestion("Check the output destination and format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if _, err := os.Stat(dir); err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case nil:
		return "none"
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}
