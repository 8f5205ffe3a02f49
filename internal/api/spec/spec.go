package spec

import (
	"embed"
	"net/http"
)

//go:embed openapi.yaml
var openapiFS embed.FS

// OpenAPIHandler serves the embedded OpenAPI document. The swagger UI at
// /docs loads it from this route, so the two always describe the same build.
func OpenAPIHandler() http.HandlerFunc {
	content, err := openapiFS.ReadFile("openapi.yaml")
	return func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, "openapi document not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}
