package protocol

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest chat body, in characters.
const MaxMessageLength = 5000

// ValidateMessage checks an outbound chat body and returns it trimmed.
// Exit keywords are allowed; text that would be read back as a control or
// file frame is not.
func ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return "", &PayloadTooLargeError{What: "message", Size: n, Limit: MaxMessageLength}
	}
	if !utf8.ValidString(text) || strings.ContainsAny(text, "\r\n") {
		return "", ErrInvalidText
	}
	f, err := Classify(text)
	if err != nil {
		return "", ErrReservedPrefix
	}
	switch f.(type) {
	case Plain, Exit:
		return text, nil
	default:
		return "", ErrReservedPrefix
	}
}

// ValidateValue checks a username, status or avatar before it is sent in
// a control frame.
func ValidateValue(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(v); n > MaxMessageLength {
		return "", &PayloadTooLargeError{What: "message", Size: n, Limit: MaxMessageLength}
	}
	if !utf8.ValidString(v) || strings.ContainsAny(v, "\r\n") {
		return "", ErrInvalidText
	}
	return v, nil
}
