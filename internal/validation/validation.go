// Package validation checks reporter input before it reaches the workflow.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// Validation errors
var (
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrInvalidSourceURL = errors.New("source URL must be an absolute http or https URL")
	ErrEvidenceEmpty    = errors.New("evidence file is empty")
	ErrEvidenceTooLarge = errors.New("evidence file too large")
	ErrEvidenceType     = errors.New("evidence file type not accepted")
)

// documentTypes are the non-image, non-text evidence formats, keyed by
// extension
var documentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// containerTypes are what Word files sniff as when their content does not
// identify the document format itself.
var containerTypes = map[string]string{
	".doc":  "application/x-ole-storage",
	".docx": "application/zip",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct validates v against its `validate` tags. Field names in the error
// are the JSON names.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateAddress checks that addr is a 0x-prefixed 20-byte hex address.
func ValidateAddress(addr string) error {
	if err := validate.Var(addr, "required,eth_addr"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateSourceURL checks that raw is an absolute http(s) URL. Surrounding
// whitespace is ignored.
func ValidateSourceURL(raw string) error {
	if err := validate.Var(strings.TrimSpace(raw), "required,http_url"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSourceURL, raw)
	}
	return nil
}

// ValidateEvidence checks an uploaded file against the size limit and the
// accepted formats (any image, PDF, Word, plain text). The format is sniffed
// from the content; the declared type is never trusted. It returns the
// detected content type.
func ValidateEvidence(name string, data []byte, maxBytes int64) (string, error) {
	size := int64(len(data))
	if size == 0 {
		return "", ErrEvidenceEmpty
	}
	if maxBytes > 0 && size > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrEvidenceTooLarge, size, maxBytes)
	}

	detected := mimetype.Detect(data)
	contentType, ok := acceptedType(name, detected)
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrEvidenceType, name, detected)
	}
	return contentType, nil
}

func acceptedType(name string, detected *mimetype.MIME) (string, bool) {
	if strings.HasPrefix(detected.String(), "image/") || detected.Is("text/plain") {
		return detected.String(), true
	}
	for _, t := range documentTypes {
		if detected.Is(t) {
			return t, true
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if container, ok := containerTypes[ext]; ok && detected.Is(container) {
		return documentTypes[ext], true
	}
	return "", false
}
