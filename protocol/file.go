package protocol

import (
	"encoding/base64"
	"path"
	"strconv"
	"strings"
)

// MaxFileSize is the largest payload accepted before base64 expansion.
const MaxFileSize = 2 << 20

// DefaultMimetype is used when the sender does not know the type.
const DefaultMimetype = "application/octet-stream"

// EncodeFile renders data as a file frame line (without trailing newline).
// The size limit is checked before anything else so an oversized payload
// never reaches a socket.
func EncodeFile(data []byte, filename, mimetype string) (string, error) {
	if len(data) > MaxFileSize {
		return "", &PayloadTooLargeError{What: "file", Size: len(data), Limit: MaxFileSize}
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if mimetype == "" {
		mimetype = DefaultMimetype
	}
	if strings.ContainsAny(mimetype, "|\r\n") {
		return "", ErrInvalidFilename
	}

	var b strings.Builder
	b.Grow(len(PrefixFile) + len(name) + len(mimetype) + base64.StdEncoding.EncodedLen(len(data)) + 16)
	b.WriteString(PrefixFile)
	b.WriteString(name)
	b.WriteByte('|')
	b.WriteString(mimetype)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(data)))
	b.WriteByte('|')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String(), nil
}

// DecodeFile returns the raw bytes carried by f.
func DecodeFile(f FileFrame) ([]byte, error) {
	if f.Size > MaxFileSize || base64.StdEncoding.DecodedLen(len(f.Data)) > MaxFileSize+3 {
		return nil, &PayloadTooLargeError{What: "file", Size: f.Size, Limit: MaxFileSize}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(f.Data))
	if err != nil {
		return nil, &CodecError{Filename: f.Filename, Err: err}
	}
	if len(data) > MaxFileSize {
		return nil, &PayloadTooLargeError{What: "file", Size: len(data), Limit: MaxFileSize}
	}
	return data, nil
}

// SanitizeFilename strips every directory component from name, treating
// both slash and backslash as separators. It fails when nothing usable is
// left or the name cannot travel inside a file frame.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return "", ErrInvalidFilename
	}
	if strings.ContainsAny(name, "|\r\n\x00") {
		return "", ErrInvalidFilename
	}
	return name, nil
}
