package httpapi

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/verifyfile"
)

// handleVerifyFile implements POST /api/v1/verify-file: an unauthenticated
// multipart lookup of a media file against the capture store, per
// SPEC_FULL.md §9.
func (s *Server) handleVerifyFile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.SizeCaps.VideoMaxBytes+1))
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "failed to read request body"))
		return
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, apierr.New(apierr.Validation, "invalid multipart body"))
		return
	}
	boundary, ok := params["boundary"]
	if !ok {
		writeError(w, r, apierr.New(apierr.Validation, "missing multipart boundary"))
		return
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var media, sidecar []byte

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "malformed multipart body"))
			return
		}
		switch part.FormName() {
		case "file":
			media, err = io.ReadAll(part)
		case "c2pa_sidecar":
			sidecar, err = io.ReadAll(part)
		}
		if err != nil {
			writeError(w, r, apierr.New(apierr.Validation, "failed to read multipart part %q", part.FormName()))
			return
		}
	}

	if len(media) == 0 {
		writeError(w, r, apierr.New(apierr.Validation, "file part required"))
		return
	}

	resp, err := verifyfile.Verify(s.store, media, sidecar)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.DatabaseError, err, "verify file"))
		return
	}

	writeData(w, r, http.StatusOK, resp)
}
