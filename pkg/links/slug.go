package links

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// slugBytes gives 96 bits of entropy, enough that slugs are
// unguessable without being unwieldy in a URL.
const slugBytes = 12

// newSlug generates a random URL-safe slug for a share link.
func newSlug() (string, error) {
	buf := make([]byte, slugBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate slug: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
