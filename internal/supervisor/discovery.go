package supervisor

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Candidate is one plugin executable found during discovery.
type Candidate struct {
	// Path is the absolute executable path.
	Path string
	// SlotID names the bridge for this executable: its base name. Earlier
	// directories win on collision.
	SlotID string
	// Fingerprint is the blake3 digest of the executable at discovery time.
	Fingerprint string
}

// Discover scans dirs in order for plugin executables. A candidate is a
// regular file with at least one executable permission bit. Missing or
// unreadable directories are skipped, not fatal.
func Discover(dirs []string, logger *slog.Logger) []Candidate {
	var out []Candidate
	seen := make(map[string]struct{})

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot read plugin directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				logger.Warn("cannot stat plugin candidate", "path", path, "error", err)
				continue
			}
			if !info.Mode().IsRegular() || info.Mode()&0o111 == 0 {
				continue
			}
			slot := entry.Name()
			if _, dup := seen[slot]; dup {
				logger.Warn("duplicate plugin name ignored (keeping first discovered)",
					"plugin", slot, "ignored_path", path)
				continue
			}
			seen[slot] = struct{}{}

			fp, err := fingerprint(path)
			if err != nil {
				logger.Warn("cannot fingerprint plugin", "path", path, "error", err)
			}
			out = append(out, Candidate{Path: path, SlotID: slot, Fingerprint: fp})
			logger.Info("discovered plugin", "plugin", slot, "path", path, "fingerprint", fp)
		}
	}
	return out
}

// fingerprint computes the blake3 digest of the executable so a changed
// binary is visible in logs and the status API across restarts.
func fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
