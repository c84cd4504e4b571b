package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

// query is optional here so that an unauthenticated caller gets 401 from the
// gateway before any "query is required" message.
const queryRequestSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string"}
	}
}`

const credentialsSchema = `{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string", "minLength": 1, "maxLength": 64},
		"password": {"type": "string", "minLength": 1, "maxLength": 72}
	}
}`

var (
	querySchema = mustCompileSchema("query.json", queryRequestSchema)
	credsSchema = mustCompileSchema("credentials.json", credentialsSchema)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

var errInvalidJSON = errors.New("Invalid JSON body")

// readJSON reads the request body, checks it against schema and decodes it
// into v. The returned error is safe to show to callers.
func readJSON(r *http.Request, schema *jsonschema.Schema, v interface{}) error {
	defer func() { _ = r.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(raw) > maxBodyBytes {
		return errInvalidJSON
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errInvalidJSON
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("request body does not match schema: %v", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidJSON
	}
	return nil
}
