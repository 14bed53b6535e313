package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// logSchema describes the persisted history log: a JSON array of turn
// objects. ts may be empty for the single in-progress placeholder.
const logSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["role", "content", "ts"],
    "properties": {
      "role": {"enum": ["user", "assistant"]},
      "content": {"type": "string"},
      "ts": {"type": "string"}
    }
  }
}`

var compiledLogSchema = mustCompileLogSchema()

func mustCompileLogSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("history.json", strings.NewReader(logSchema)); err != nil {
		panic(err)
	}
	schema, err := c.Compile("history.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// validateLog checks a raw log file against the schema before the store
// accepts it. Logs written by other tools (or truncated by a crash predating
// atomic replace) fail here and the session starts empty.
func validateLog(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := compiledLogSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
