package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoImages is returned by BundlePDF when there is nothing to bundle.
var ErrNoImages = errors.New("report: no images to bundle")

// BundlePDF merges images (PNG or JPEG) into a single PDF at out, one image
// per page, in the given order. An existing file at out is replaced.
func BundlePDF(images []string, out string) error {
	if len(images) == 0 {
		return ErrNoImages
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("report: bundle mkdir: %w", err)
	}
	// pdfcpu appends to an existing file.
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("report: bundle remove: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(images, out, imp, conf); err != nil {
		return fmt.Errorf("report: bundle pdf: %w", err)
	}
	return nil
}
