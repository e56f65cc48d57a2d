package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BodyValidator validates JSON request bodies against a compiled JSON Schema
// before they reach a handler. One validator is built per write endpoint at
// startup; compilation failures are programming errors and surface then.
type BodyValidator struct {
	schema *jsonschema.Schema
}

// NewBodyValidator compiles the embedded schema document under the given name.
func NewBodyValidator(name string, document []byte) (*BodyValidator, error) {
	compiler := jsonschema.NewCompiler()
	key := fmt.Sprintf("memory://contracts/%s", name)
	if err := compiler.AddResource(key, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("register contract %s: %w", name, err)
	}

	compiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile contract %s: %w", name, err)
	}

	return &BodyValidator{schema: compiled}, nil
}

// MustNewBodyValidator is NewBodyValidator that panics on error; intended for
// wiring embedded contracts at startup.
func MustNewBodyValidator(name string, document []byte) *BodyValidator {
	v, err := NewBodyValidator(name, document)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks the payload against the schema. A nil error means the body
// is structurally valid; the handler still owns semantic validation.
func (v *BodyValidator) Validate(payload []byte) error {
	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}

	if err := v.schema.Validate(document); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}

	return nil
}

// Middleware buffers the request body, validates it, and rejects invalid
// payloads with a 400 before invoking the next handler. The body is restored
// so handlers can decode it normally.
func (v *BodyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(payload))

		if err := v.Validate(payload); err != nil {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"title":  "Validation failed",
				"status": http.StatusBadRequest,
				"detail": err.Error(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
