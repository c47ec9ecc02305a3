package office

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

const (
	defaultMaxZipEntryBytes = 64 << 20
	defaultMaxZipEntries    = 10000
)

var errEntryMissing = errors.New("missing archive entry")

// openArchive opens an OOXML package and classifies open failures.
func openArchive(path, strategy string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, extract.NewError(extract.KindIO, strategy, err)
		}
		return nil, extract.NewError(extract.KindMalformed, strategy, err)
	}
	if len(zr.File) > defaultMaxZipEntries {
		_ = zr.Close()
		return nil, extract.Errorf(extract.KindMalformed, strategy, "archive has %d entries (limit %d)", len(zr.File), defaultMaxZipEntries)
	}
	return zr, nil
}

// readZipFile returns the named entry, refusing entries whose real size is
// above maxBytes regardless of what the header claims.
func readZipFile(zr *zip.Reader, name string, maxBytes int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if maxBytes > 0 && f.UncompressedSize64 > uint64(maxBytes) {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, maxBytes)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		if maxBytes <= 0 {
			return io.ReadAll(rc)
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > maxBytes {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, maxBytes)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", errEntryMissing, name)
}

// estimatePages applies the 500 words per page heuristic, minimum 1.
func estimatePages(text string) int {
	words, _ := extract.BuildCounts(text)
	pages := (words + 499) / 500
	if pages < 1 {
		return 1
	}
	return pages
}
