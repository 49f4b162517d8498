package alerts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/payrixa/driftwatch/internal/domain"
)

// FileArtifacts locates report PDFs on a shared filesystem. The report
// generator writes them under {dir}/{customer_id}/{report_run_id}.pdf.
type FileArtifacts struct {
	dir string
}

// NewFileArtifacts creates a filesystem-backed artifact provider rooted at
// dir.
func NewFileArtifacts(dir string) *FileArtifacts {
	return &FileArtifacts{dir: dir}
}

// ReportPDF returns the path to the run's report PDF. A missing file maps to
// domain.ErrNotFound so callers can degrade without parsing os errors.
func (f *FileArtifacts) ReportPDF(ctx context.Context, customerID, reportRunID uuid.UUID) (string, error) {
	path := filepath.Join(f.dir, customerID.String(), reportRunID.String()+".pdf")

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("report pdf %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("checking report pdf %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("report pdf %s is a directory: %w", path, domain.ErrNotFound)
	}
	return path, nil
}
