package api

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/storage"
)

// maxUploadMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const maxUploadMemory = 8 << 20

// ListFiles returns the attachments in the files directory.
//
//	GET /api/files
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		httputil.OK(w, map[string]any{"files": []storage.FileInfo{}})
		return
	}
	files, err := h.files.List()
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list files")
		return
	}
	httputil.OK(w, map[string]any{"files": files, "directory": h.files.Dir()})
}

// UploadFile stores the multipart field "file" in the files directory under
// its base name.
//
//	POST /api/files/upload
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		httputil.ErrorWithDetails(w, http.StatusInternalServerError,
			"files directory is not configured", "not_configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxAttachmentSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "file exceeds the attachment size limit")
			return
		}
		httputil.BadRequest(w, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file field")
		return
	}
	defer f.Close()

	info, err := h.files.Save(filepath.Base(hdr.Filename), f)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		httputil.BadRequest(w, "invalid file name")
	case errors.Is(err, storage.ErrTooLarge):
		httputil.Error(w, http.StatusRequestEntityTooLarge, "file exceeds the attachment size limit")
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, "failed to save file")
	default:
		httputil.Created(w, info)
	}
}
