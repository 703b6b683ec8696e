package taskdb

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed event.schema.json
var eventSchemaJSON []byte

var eventSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("event schema unmarshal: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", doc); err != nil {
		return nil, fmt.Errorf("event schema compile: %w", err)
	}
	return c.Compile("event.schema.json")
})

// ParseEvent validates raw against the event JSON schema and decodes it.
// Schema violations and malformed JSON are returned as *ValidationError.
func ParseEvent(raw []byte) (Event, error) {
	sch, err := eventSchema()
	if err != nil {
		return Event{}, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Event{}, &ValidationError{Field: "event", Reason: "is not valid JSON: " + err.Error()}
	}
	if err := sch.Validate(doc); err != nil {
		return Event{}, &ValidationError{Field: "event", Reason: "violates schema: " + err.Error()}
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, &ValidationError{Field: "event", Reason: err.Error()}
	}
	return ev, nil
}
