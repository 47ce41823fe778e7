package middleware

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// FileValidationConfig defines file validation rules
type FileValidationConfig struct {
	MaxSize      int64    // Maximum file size in bytes
	AllowedTypes []string // Allowed sniffed MIME types, "video/*" style wildcards allowed
	AllowedExts  []string // Allowed file extensions
}

// VideoFileValidation accepts the containers the editor can decode
var VideoFileValidation = FileValidationConfig{
	MaxSize: 5 * 1024 * 1024 * 1024, // 5 GB
	AllowedTypes: []string{
		"video/*",
		// http.DetectContentType reports some MP4 and MKV files as generic binary
		"application/octet-stream",
	},
	AllowedExts: []string{
		".mp4", ".m4v", ".mov", ".webm", ".mkv", ".avi", ".mpeg", ".mpg",
	},
}

// ValidateFileUpload validates every file of a multipart upload
func ValidateFileUpload(config FileValidationConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
				http.Error(w, "multipart/form-data upload required", http.StatusUnsupportedMediaType)
				return
			}

			if config.MaxSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, config.MaxSize+1<<20)
			}
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				http.Error(w, "Failed to parse form", http.StatusBadRequest)
				return
			}

			if r.MultipartForm != nil {
				for _, fileHeaders := range r.MultipartForm.File {
					for _, fileHeader := range fileHeaders {
						if err := validateFile(fileHeader, config); err != nil {
							http.Error(w, err.Error(), http.StatusBadRequest)
							return
						}
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func validateFile(fileHeader *multipart.FileHeader, config FileValidationConfig) error {
	if config.MaxSize > 0 && fileHeader.Size > config.MaxSize {
		return fmt.Errorf("file size %d exceeds maximum allowed size %d", fileHeader.Size, config.MaxSize)
	}

	if len(config.AllowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		if !containsFold(config.AllowedExts, ext) {
			return fmt.Errorf("file extension %q is not allowed", ext)
		}
	}

	if len(config.AllowedTypes) > 0 {
		file, err := fileHeader.Open()
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()

		buffer := make([]byte, 512)
		n, err := file.Read(buffer)
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read file: %w", err)
		}

		contentType := http.DetectContentType(buffer[:n])
		allowed := false
		for _, pattern := range config.AllowedTypes {
			if matchMIMEType(contentType, pattern) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("file type %s is not allowed", contentType)
		}
	}

	return nil
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// matchMIMEType matches exact types and "type/*" wildcards
func matchMIMEType(contentType, pattern string) bool {
	if contentType == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(contentType, prefix+"/")
	}
	return false
}

// LimitJSONBody rejects write requests whose JSON body exceeds maxBytes
// or is empty. Bodyless POSTs with no content type pass through.
func LimitJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}
			if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength == 0 {
				http.Error(w, "Request body is required", http.StatusBadRequest)
				return
			}
			if r.ContentLength > maxBytes {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
