package definitions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the name and content of every definition file under root.
// Equal fingerprints mean a rebuild would read exactly the same input.
func Fingerprint(root string) (uint64, error) {
	digest := xxhash.New()

	for _, dir := range []string{FeaturesDir, GroupsDir, SegmentsDir} {
		files, err := definitionFiles(root, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("failed to list %s: %w", dir, err)
		}

		for _, name := range files {
			data, err := os.ReadFile(filepath.Join(root, dir, name))
			if err != nil {
				return 0, fmt.Errorf("failed to read %s/%s: %w", dir, name, err)
			}
			// Separators keep ("ab","c") and ("a","bc") from colliding.
			_, _ = digest.WriteString(dir + "/" + name + "\x00")
			_, _ = digest.Write(data)
			_, _ = digest.WriteString("\x00")
		}
	}

	return digest.Sum64(), nil
}
