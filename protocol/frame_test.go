package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Frame
	}{
		{"server name", "__SERVER_NAME__:Hub", ServerIdentity{Name: "Hub"}},
		{"server name default", "__SERVER_NAME__:   ", ServerIdentity{Name: DefaultServerName}},
		{"server status", "__SERVER_STATUS__: Busy ", ServerStatus{Status: "Busy"}},
		{"server avatar", "__SERVER_AVATAR__:🦊", ServerAvatar{Avatar: "🦊"}},
		{"client rename", "__CLIENT_NAME__:Alice", ClientRename{Name: "Alice"}},
		{"client status", "__CLIENT_STATUS__:Away", ClientStatus{Status: "Away"}},
		{"client avatar", "__CLIENT_AVATAR__:🐱", ClientAvatar{Avatar: "🐱"}},
		{"file", "__FILE__|a|b|3|d", FileFrame{Filename: "a", Mimetype: "b", Size: 3, Data: "d"}},
		{"file data keeps pipes", "__FILE__|a|b|1|x|y", FileFrame{Filename: "a", Mimetype: "b", Size: 1, Data: "x|y"}},
		{"exit", "quit", Exit{Text: "quit"}},
		{"exit folded", "  Au Revoir  ", Exit{Text: "  Au Revoir  "}},
		{"exit accents", "À BIENTÔT", Exit{Text: "À BIENTÔT"}},
		{"exit without accents", "a bientot", Exit{Text: "a bientot"}},
		{"plain", "  Hello World ", Plain{Text: "  Hello World "}},
		{"plain containing keyword", "quit now", Plain{Text: "quit now"}},
		{"prefix not at start", "say __CLIENT_NAME__:x", Plain{Text: "say __CLIENT_NAME__:x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.line)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassifyFileNeverPlain(t *testing.T) {
	for _, line := range []string{"__FILE__|a|b|c|d", "__FILE__|only|three", "__FILE__|"} {
		f, err := Classify(line)
		if _, ok := f.(Plain); ok {
			t.Errorf("Classify(%q) returned Plain", line)
		}
		if err != nil && !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Classify(%q) error = %v, want ErrMalformedFrame", line, err)
		}
	}
}

func TestClassifyMalformed(t *testing.T) {
	for _, line := range []string{
		"__FILE__|a|b|c",
		"__FILE__|a|b|notanumber|AAAA",
		"__FILE__||b|1|AA==",
		"__CLIENT_NAME__:   ",
		"__CLIENT_STATUS__:",
	} {
		_, err := Classify(line)
		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Errorf("Classify(%q) error = %v, want *FrameError", line, err)
		}
	}
}

func TestFold(t *testing.T) {
	if got := Fold("  À Plus "); got != "a plus" {
		t.Errorf("Expected %q, got %q", "a plus", got)
	}
	for _, k := range ExitKeywords() {
		if !IsExitKeyword(strings.ToUpper(k)) {
			t.Errorf("Expected %q to be an exit keyword", strings.ToUpper(k))
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0x00, 0xff, '|', '\n'}, 1000),
		bytes.Repeat([]byte("x"), MaxFileSize),
	}

	for _, data := range payloads {
		line, err := EncodeFile(data, "dir/sub/report.pdf", "application/pdf")
		if err != nil {
			t.Fatalf("EncodeFile(%d bytes) error: %v", len(data), err)
		}
		if strings.ContainsAny(line, "\n\r") {
			t.Fatalf("Encoded line contains a newline")
		}

		f, err := Classify(line)
		if err != nil {
			t.Fatalf("Classify encoded line: %v", err)
		}
		ff, ok := f.(FileFrame)
		if !ok {
			t.Fatalf("Expected FileFrame, got %T", f)
		}
		if ff.Filename != "report.pdf" || ff.Mimetype != "application/pdf" || ff.Size != len(data) {
			t.Errorf("Unexpected header: %+v", ff)
		}

		got, err := DecodeFile(ff)
		if err != nil {
			t.Fatalf("DecodeFile error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Round trip mismatch for %d bytes", len(data))
		}
	}
}

func TestEncodeFileTooLarge(t *testing.T) {
	_, err := EncodeFile(make([]byte, 3<<20), "big.bin", "")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
	_, err = EncodeFile(make([]byte, MaxFileSize+1), "big.bin", "")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge at limit+1, got %v", err)
	}
}

func TestDecodeFileBadBase64(t *testing.T) {
	_, err := DecodeFile(FileFrame{Filename: "x", Size: 3, Data: "!!!not base64"})
	if !errors.Is(err, ErrCodec) {
		t.Fatalf("Expected ErrCodec, got %v", err)
	}
	var ce *CodecError
	if !errors.As(err, &ce) || ce.Filename != "x" {
		t.Errorf("Expected CodecError for x, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\photo.png`: "photo.png",
		"/abs/path/notes.txt":   "notes.txt",
		"  spaced name.txt ":    "spaced name.txt",
	}
	for in, want := range tests {
		got, err := SanitizeFilename(in)
		if err != nil || got != want {
			t.Errorf("SanitizeFilename(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"", "..", "/", "a|b"} {
		if _, err := SanitizeFilename(in); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("SanitizeFilename(%q) error = %v, want ErrInvalidFilename", in, err)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	if got, err := ValidateMessage("  hi  "); err != nil || got != "hi" {
		t.Errorf("Expected \"hi\", got %q, %v", got, err)
	}
	if _, err := ValidateMessage("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if _, err := ValidateMessage(strings.Repeat("a", 6000)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := ValidateMessage(strings.Repeat("é", MaxMessageLength)); err != nil {
		t.Errorf("Expected %d characters to pass, got %v", MaxMessageLength, err)
	}
	if _, err := ValidateMessage("two\nlines"); !errors.Is(err, ErrInvalidText) {
		t.Errorf("Expected ErrInvalidText, got %v", err)
	}
	if _, err := ValidateMessage("__CLIENT_NAME__:mallory"); !errors.Is(err, ErrReservedPrefix) {
		t.Errorf("Expected ErrReservedPrefix, got %v", err)
	}
	if _, err := ValidateMessage("Bye"); err != nil {
		t.Errorf("Expected exit keyword to be sendable, got %v", err)
	}
}
