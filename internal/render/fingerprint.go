package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint returns the deterministic cache key for a normalized request.
// The key covers (url, width, height, fullPage, imageType); JPEG quality is
// deliberately not part of it.
func Fingerprint(req CaptureRequest) string {
	canonical := fmt.Sprintf("%s|%d|%d|%t|%s", req.URL, req.Width, req.Height, req.FullPage, req.ImageType)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
