package constants

import "bytes"

// Format is the detected content type of an uploaded document.
type Format string

const (
	PNG     Format = "PNG"
	JPEG    Format = "JPEG"
	TIFF    Format = "TIFF"
	PDF     Format = "PDF" // recognized so it can be rejected with a precise code
	Unknown Format = "UNKNOWN"
)

// DetectFormat sniffs magic bytes. Deterministic: no guessing from content
// beyond the signature.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return Unknown
	}
	switch {
	case bytes.Equal(data[0:4], []byte("\x89PNG")):
		return PNG
	case bytes.Equal(data[0:3], []byte("\xff\xd8\xff")):
		return JPEG
	case bytes.Equal(data[0:4], []byte("II*\x00")), bytes.Equal(data[0:4], []byte("MM\x00*")):
		return TIFF
	case bytes.Equal(data[0:4], []byte("%PDF")):
		return PDF
	}
	return Unknown
}

// OCRSupported reports whether the format can be fed to the OCR engine.
func (f Format) OCRSupported() bool {
	return f == PNG || f == JPEG || f == TIFF
}

func (f Format) String() string {
	return string(f)
}
