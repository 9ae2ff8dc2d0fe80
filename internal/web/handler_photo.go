package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const maxPhotoSize = 10 * 1024 * 1024 // 10 MB

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the stdlib sniffer has no
// WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// readPhoto returns the uploaded bytes from either a multipart "image" field
// or the raw request body.
func (s *Server) readPhoto(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+1024*1024)

	body := io.Reader(r.Body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
			return nil, http.StatusBadRequest, errors.New("failed to parse form")
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("image file required")
		}
		defer closeWithLog(file, "upload file", s.logger)
		body = file
	}

	data, err := io.ReadAll(io.LimitReader(body, maxPhotoSize+1))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("photo too large")
		}
		return nil, http.StatusBadRequest, errors.New("failed to read photo")
	}
	if len(data) > maxPhotoSize {
		return nil, http.StatusRequestEntityTooLarge, errors.New("photo too large")
	}
	return data, http.StatusOK, nil
}

func (s *Server) handlePutPhoto(w http.ResponseWriter, r *http.Request) {
	cityID, itemID := r.PathValue("city"), r.PathValue("item")

	data, status, err := s.readPhoto(w, r)
	if err != nil {
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	mimeType, ok := allowedImageMIME(data)
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported image format"})
		return
	}

	if err := s.service.SavePhoto(r.Context(), cityID, itemID, mimeType, data); err != nil {
		s.writeError(w, err, "failed to save photo", "city_id", cityID, "item_id", itemID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "mimeType": mimeType, "bytes": len(data)})
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	cityID, itemID := r.PathValue("city"), r.PathValue("item")

	photo, err := s.service.GetPhoto(r.Context(), cityID, itemID)
	if err != nil {
		s.writeError(w, err, "failed to get photo", "city_id", cityID, "item_id", itemID)
		return
	}

	w.Header().Set("Content-Type", photo.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(photo.Payload)))
	w.Header().Set("Last-Modified", photo.Timestamp.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "private, no-cache")
	if _, err := w.Write(photo.Payload); err != nil {
		s.logger.Error("write photo failed", "city_id", cityID, "item_id", itemID, "error", err)
	}
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	cityID, itemID := r.PathValue("city"), r.PathValue("item")

	if err := s.service.DeletePhoto(r.Context(), cityID, itemID); err != nil {
		s.writeError(w, err, "failed to delete photo", "city_id", cityID, "item_id", itemID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}

