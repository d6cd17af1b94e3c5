package css

import (
	"testing"

	"github.com/build-hub/build-hub/internal/bundletype"
)

func TestCSSRegistration(t *testing.T) {
	meta, ok := bundletype.Resolve(Key)
	if !ok {
		t.Fatalf("css bundle type not registered")
	}
	if meta.MimeType != "text/css" {
		t.Fatalf("unexpected mime type: %s", meta.MimeType)
	}
	if meta.SupportsExport {
		t.Fatalf("css bundles have no export name")
	}
	if !meta.Matches("main.scss") {
		t.Fatalf("css type should accept .scss files")
	}
}
