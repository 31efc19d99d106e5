// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// resolveSegmentPath guards against path traversal: filename is
// percent-decoded, then resolved relative to the source's directory; any
// path containing a separator, or any result that escapes the source
// directory, is rejected. Returns ErrPathRejected on a guard violation,
// ErrNotFound when the source is unknown or the file does not exist.
func (s *Server) resolveSegmentPath(sourceID, filename string) (string, error) {
	if _, ok := s.snap.Sources[sourceID]; !ok {
		return "", ErrNotFound
	}
	filename, err := url.PathUnescape(filename)
	if err != nil {
		return "", ErrPathRejected
	}
	if filename == "" || strings.ContainsAny(filename, "/\\") || filename == "." || filename == ".." {
		return "", ErrPathRejected
	}

	dir := s.snap.SourceDir(sourceID)
	full := filepath.Join(dir, filename)

	cleanDir, err := filepath.Abs(dir)
	if err != nil {
		return "", ErrPathRejected
	}
	cleanFull, err := filepath.Abs(full)
	if err != nil {
		return "", ErrPathRejected
	}
	if cleanFull != cleanDir && !strings.HasPrefix(cleanFull, cleanDir+string(filepath.Separator)) {
		return "", ErrPathRejected
	}

	if _, err := os.Stat(cleanFull); err != nil {
		return "", ErrNotFound
	}
	return cleanFull, nil
}

// handleDownload serves GET /api/download/{id}/{filename}: streams the
// segment's bytes, or 404/400 per the path guard.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	path, err := s.resolveSegmentPath(id, filename)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// handleDelete serves DELETE /api/delete/{id}/{filename}: removes one
// segment, guarded against path traversal.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	path, err := s.resolveSegmentPath(id, filename)
	if err != nil {
		writeResult(w, err)
		return
	}
	writeResult(w, os.Remove(path))
}
