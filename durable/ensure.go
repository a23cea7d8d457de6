package durable

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var dataURIRe = regexp.MustCompile(`^data:image/[^;]+;base64,(.+)$`)

// EnsureFile normalizes a URI into a plain path inside the stable directory
// so downstream gallery calls always receive a real file:
//
//   - file:// URIs and bare paths pass through (scheme stripped)
//   - data: URIs are base64-decoded into a new stable file
//
// Anything else is rejected; remote fetching is not this layer's job.
func (s *Store) EnsureFile(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("durable: ensure file: empty uri")
	}

	if strings.HasPrefix(uri, "data:") {
		m := dataURIRe.FindStringSubmatch(uri)
		if m == nil {
			return "", fmt.Errorf("durable: invalid data uri")
		}
		raw, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return "", fmt.Errorf("durable: decode data uri: %w", err)
		}
		dest := fmt.Sprintf("%s/export-%d.jpg", s.dir, s.now().UnixMilli())
		if err := writeVerified(dest, raw); err != nil {
			return "", err
		}
		return dest, nil
	}

	if strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("durable: unsupported uri scheme: %s", uri)
	}
	return StripFileScheme(uri), nil
}

func writeVerified(dest string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("durable: refusing to write empty file %s", dest)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("durable: write %s: %w", dest, err)
	}
	if !Exists(dest) {
		return fmt.Errorf("durable: %s missing after write", dest)
	}
	return nil
}
