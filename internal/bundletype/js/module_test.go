package js

import (
	"testing"

	"github.com/build-hub/build-hub/internal/bundletype"
)

func TestJSRegistration(t *testing.T) {
	meta, ok := bundletype.Resolve(Key)
	if !ok {
		t.Fatalf("js bundle type not registered")
	}
	if meta.MimeType != "application/javascript" {
		t.Fatalf("unexpected mime type: %s", meta.MimeType)
	}
	if !meta.SupportsExport {
		t.Fatalf("js bundles should expose an export name")
	}
	if !meta.Matches("src/main.js") {
		t.Fatalf("js type should accept .js files")
	}
}
