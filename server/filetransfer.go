package server

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"lnmsg/protocol"
)

// FileStore keeps transferred payloads on disk, one directory per peer.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Save writes data under <root>/client_<id>[/sub]/<prefix>_<name> and
// returns the stored path together with the BLAKE2b-256 digest of data.
// name is sanitized again here so no caller can escape the peer directory.
func (fs *FileStore) Save(sessionID int64, sub, name string, data []byte) (string, string, error) {
	clean, err := protocol.SanitizeFilename(name)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(fs.root, fmt.Sprintf("client_%d", sessionID), sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create file dir: %w", err)
	}

	path := filepath.Join(dir, generateFileID()+"_"+clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", clean, err)
	}

	return path, digest(data), nil
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func generateFileID() string {
	return uuid.NewString()[:8]
}
