// Package zip builds in-memory archives for collection exports.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

type Entry struct {
	Name string
	Data []byte
}

// Archive packs the entries into a zip file held in memory. Entry names are
// used verbatim as archive paths.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: finish archive: %w", err)
	}
	return buf.Bytes(), nil
}
