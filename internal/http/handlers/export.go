package handlers

import (
	"encoding/json"
	"net/http"

	"vivagen/pkg/zip"
)

// Export streams the whole collection as a zip archive: one JSON record per
// asset plus the saved prompt library.
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	entries, err := exportEntries(a)
	if err != nil {
		a.jsonError(w, err)
		return
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.jsonError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="vivagen-export.zip"`)
	_, _ = w.Write(archive)
}

func exportEntries(a *App) ([]zip.Entry, error) {
	assets := a.Dispatcher.Assets()
	entries := make([]zip.Entry, 0, len(assets)+1)
	for _, asset := range assets {
		raw, err := json.MarshalIndent(asset, "", "  ")
		if err != nil {
			return nil, err
		}
		entries = append(entries, zip.Entry{Name: "assets/" + asset.ID + ".json", Data: raw})
	}
	raw, err := json.MarshalIndent(a.Library.List(), "", "  ")
	if err != nil {
		return nil, err
	}
	entries = append(entries, zip.Entry{Name: "library.json", Data: raw})
	return entries, nil
}
