package vjson

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/stackdump/webplus/internal/jcs"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
)

// Schema is a VJSON value that additionally carries a compiled JSON Schema
// (its "properties", per spec.md §4.2.3) to validate other VJSON values
// against.
type Schema struct {
	Doc      map[string]interface{}
	SelfHash string
	compiled *gojsonschema.Schema
}

// bootstrapDoc is the uncompiled form of the Default schema: every
// conforming VJSON value declares selfHash, and optionally $id/$schema, as
// strings; everything else is open (spec.md doesn't constrain instance
// shape beyond the self-hash slot contract).
func bootstrapDoc() map[string]interface{} {
	return map[string]interface{}{
		"title": "Default",
		"type":  "object",
		"properties": map[string]interface{}{
			"selfHash": map[string]interface{}{"type": "string"},
			"$id":      map[string]interface{}{"type": "string"},
			"$schema":  map[string]interface{}{"type": "string"},
		},
		"required":             []interface{}{"selfHash"},
		"additionalProperties": true,
	}
}

// Default is the bootstrap schema: self-referential ($id and $schema point
// back to itself via its own self-hash) and built once, per spec.md §9's
// "synthesize with placeholders, hash, substitute" recipe — the same
// pattern a root DID document uses for its own `id` field.
var Default = mustBootstrap()

func mustBootstrap() *Schema {
	s, err := bootstrap()
	if err != nil {
		panic(fmt.Sprintf("vjson: Default schema bootstrap failed: %v", err))
	}
	return s
}

func bootstrap() (*Schema, error) {
	doc := bootstrapDoc()
	doc["selfHash"] = ""
	doc["$id"] = ""
	doc["$schema"] = ""

	stamped, err := SelfHash(doc, SchemaSlotSet(), selfhash.DefaultFunction)
	if err != nil {
		return nil, err
	}
	return compile(stamped)
}

func compile(doc map[string]interface{}) (*Schema, error) {
	selfHash, _ := doc["selfHash"].(string)
	raw, err := jcs.Marshal(doc)
	if err != nil {
		return nil, werrors.E("vjson.compile", werrors.Malformed, err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, werrors.E("vjson.compile", werrors.Malformed, fmt.Errorf("compiling JSON schema: %w", err))
	}
	return &Schema{Doc: doc, SelfHash: selfHash, compiled: compiled}, nil
}

// LoadSchema verifies a VJSON schema value's own self-hash and compiles its
// JSON Schema body, per spec.md §4.2.3: "additionally verify s is itself a
// valid VJSON".
func LoadSchema(doc map[string]interface{}) (*Schema, error) {
	if _, err := VerifySelfHash(doc, SchemaSlotSet()); err != nil {
		return nil, err
	}
	return compile(doc)
}

// Validate runs JSON Schema validation of v against s, per spec.md §4.2.3.
// A validation failure is reported as werrors with a synthetic
// "SchemaMismatch" cause; the caller need not parse gojsonschema's error
// list to know a mismatch occurred, but it is preserved in the wrapped
// error for diagnostics.
func (s *Schema) Validate(v map[string]interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return werrors.E("vjson.Schema.Validate", werrors.Malformed, err)
	}
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return werrors.E("vjson.Schema.Validate", werrors.Malformed, err)
	}
	if !result.Valid() {
		return werrors.E("vjson.Schema.Validate", werrors.Malformed, schemaMismatchError(result))
	}
	return nil
}

func schemaMismatchError(result *gojsonschema.Result) error {
	msg := "SchemaMismatch:"
	for _, e := range result.Errors() {
		msg += " " + e.String() + ";"
	}
	return fmt.Errorf("%s", msg)
}
