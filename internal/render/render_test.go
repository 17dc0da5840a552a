package render

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	req := CaptureRequest{URL: "https://example.org"}.Normalize()
	require.Equal(t, DefaultWidth, req.Width)
	require.Equal(t, DefaultHeight, req.Height)
	require.Equal(t, ImageTypePNG, req.ImageType)
	require.Equal(t, DefaultQuality, req.Quality)
}

func TestValidateRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  CaptureRequest
	}{
		{"bad scheme", CaptureRequest{URL: "ftp://example.org"}},
		{"missing host", CaptureRequest{URL: "https://"}},
		{"bad image type", CaptureRequest{URL: "https://example.org", ImageType: "webp"}},
		{"quality too high", CaptureRequest{URL: "https://example.org", ImageType: "png", Quality: 101}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.req.Normalize().Validate(), ErrInvalidInput)
		})
	}
}

func TestValidateAcceptsNormalizedRequest(t *testing.T) {
	t.Parallel()

	req := CaptureRequest{URL: "https://example.org/page", ImageType: ImageTypeJPEG, Quality: 80}.Normalize()
	require.NoError(t, req.Validate())
	require.Equal(t, "image/jpeg", req.ContentType())
	require.Equal(t, "example.org", req.Host())
}

func TestFingerprintDeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	base := CaptureRequest{URL: "https://example.org", Width: 800, Height: 600, FullPage: true, ImageType: ImageTypePNG}
	require.Equal(t, Fingerprint(base), Fingerprint(base))

	widened := base
	widened.Width = 1024
	require.NotEqual(t, Fingerprint(base), Fingerprint(widened))

	jpeg := base
	jpeg.ImageType = ImageTypeJPEG
	require.NotEqual(t, Fingerprint(base), Fingerprint(jpeg))

	viewport := base
	viewport.FullPage = false
	require.NotEqual(t, Fingerprint(base), Fingerprint(viewport))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, ClassInvalid, Classify(ErrInvalidInput))
	require.Equal(t, ClassTransient, Classify(ErrPoolExhausted))
	require.Equal(t, ClassTransient, Classify(ErrRenderTimeout))
	require.Equal(t, ClassTransient, Classify(ErrRendererCrashed))
	require.Equal(t, ClassUnavailable, Classify(ErrShuttingDown))
	require.Equal(t, ClassInternal, Classify(ErrInstanceCreation))
}
