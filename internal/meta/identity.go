package meta

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// identityFile names the instance identity file inside the data dir.
const identityFile = "tinyrel.id"

// ensureIdentity loads the instance UUID from the data directory,
// minting and persisting a fresh one at bootstrap. A data directory
// whose identity file does not parse belongs to something else; refuse
// to touch it.
func ensureIdentity(dataDir string) (uuid.UUID, error) {
	path := filepath.Join(dataDir, identityFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		id, perr := uuid.Parse(strings.TrimSpace(string(raw)))
		if perr != nil {
			return uuid.Nil, fmt.Errorf("corrupt identity file %s: %v", path, perr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return uuid.Nil, err
	}
	id := uuid.New()
	if err := atomic.WriteFile(path, bytes.NewReader([]byte(id.String()+"\n"))); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
