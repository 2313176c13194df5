package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"humansign/internal/verify"
)

// VerifyRequest is the body of POST /api/v1/verify. Token may be a bare
// token or the artifact text; Document, when present, is checked against
// the token's document hash.
type VerifyRequest struct {
	Token    string  `json:"token"`
	JWS      string  `json:"jws"`
	Document *string `json:"document"`
}

// multipart overhead allowed on top of the two file limits
const multipartSlack = 1 << 20

// handleVerify handles POST /api/v1/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.limits.MaxArtifactBytes+multipartSlack)

	var req VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, AsBodyError(err))
		return
	}

	raw := req.Token
	if raw == "" {
		raw = req.JWS
	}
	tok, err := verify.ParseArtifact([]byte(raw), s.limits.MaxArtifactBytes)
	if err != nil {
		writeError(w, artifactError(err))
		return
	}

	var document []byte
	if req.Document != nil {
		document = []byte(*req.Document)
	}
	ok(w, s.verifier.Verify(r.Context(), tok, document))
}

// handleVerifyFiles handles POST /api/v1/verify-files with multipart
// fields "document" and "humansign".
func (s *Server) handleVerifyFiles(w http.ResponseWriter, r *http.Request) {
	limit := s.limits.MaxArtifactBytes
	r.Body = http.MaxBytesReader(w, r.Body, 2*limit+multipartSlack)

	if err := r.ParseMultipartForm(2*limit + multipartSlack); err != nil {
		writeError(w, multipartError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	docFile, docHeader, err := r.FormFile("document")
	if err != nil {
		writeError(w, NewValidationError("document", "Both document and humansign files are required"))
		return
	}
	defer docFile.Close()

	hsFile, hsHeader, err := r.FormFile("humansign")
	if err != nil {
		writeError(w, NewValidationError("humansign", "Both document and humansign files are required"))
		return
	}
	defer hsFile.Close()

	if !s.allowedDocumentType(docHeader.Header.Get("Content-Type")) {
		writeError(w, ErrUnsupportedMedia.WithMessage("Unsupported document type"))
		return
	}
	if !strings.HasSuffix(hsHeader.Filename, s.limits.ArtifactExtension) {
		writeError(w, ErrUnsupportedMedia.WithMessage("Invalid humansign file extension"))
		return
	}
	if docHeader.Size > limit || hsHeader.Size > limit {
		writeError(w, ErrTooLarge)
		return
	}

	document, err := readLimited(docFile, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	artifact, err := readLimited(hsFile, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	tok, err := verify.ParseArtifact(artifact, limit)
	if err != nil {
		writeError(w, artifactError(err))
		return
	}
	ok(w, s.verifier.Verify(r.Context(), tok, document))
}

func (s *Server) allowedDocumentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return slices.Contains(s.limits.AllowedDocumentTypes, mediaType)
}

func readLimited(f multipart.File, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func artifactError(err error) *APIError {
	switch {
	case errors.Is(err, verify.ErrArtifactTooLarge):
		return ErrTooLarge.WithMessage(err.Error())
	case errors.Is(err, verify.ErrArtifactEmpty):
		return NewValidationError("humansign", "Artifact is empty")
	default:
		return NewValidationError("humansign", err.Error())
	}
}

func multipartError(err error) *APIError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrTooLarge
	}
	return ErrBadRequest.WithMessage("Expected multipart/form-data with document and humansign files")
}
