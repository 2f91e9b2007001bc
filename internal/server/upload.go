package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/raphaelgruber/datahub-gate/internal/service"
)

// Multipart field names of the upload form.
const (
	formUser = "user_id"
	formFile = "myfile"
)

// uploadResponse is the body of an upload answer.
type uploadResponse struct {
	Filename string `json:"filename"`
	Error    string `json:"error,omitempty"`
	*service.UploadResult
}

func (s *Server) handleUpload(uploads *service.UploadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			writeError(w, statusFor(errors.Join(service.ErrInvalidRequest, err)), "invalid upload form: "+err.Error())
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile(formFile)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %s file: %v", formFile, err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, statusFor(err), "read upload: "+err.Error())
			return
		}

		result, err := uploads.Upload(r.Context(), r.FormValue(formUser), data)
		if err != nil && result == nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		body := uploadResponse{Filename: header.Filename, UploadResult: result}
		switch {
		case err != nil:
			body.Error = err.Error()
			writeJSON(w, statusFor(err), body)
		case !result.Accepted:
			writeJSON(w, http.StatusUnprocessableEntity, body)
		case result.Partial():
			writeJSON(w, http.StatusMultiStatus, body)
		default:
			writeJSON(w, http.StatusOK, body)
		}
	}
}
