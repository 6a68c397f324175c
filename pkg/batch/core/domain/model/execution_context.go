package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Keys maintained by the chunk executor in a step's ExecutionContext.
const (
	// ChunkOffsetKey is the offset of the next record to read.
	ChunkOffsetKey = "batch.chunk.offset"
	// ChunkCountKey is the number of committed chunks.
	ChunkCountKey = "batch.chunk.count"
	// StepStatusKey mirrors the step status at the last checkpoint.
	StepStatusKey = "batch.step.status"
)

// ExecutionContext is a key-value store persisted with a job or step execution.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer, storing the context as JSON.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	*ec = make(ExecutionContext)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// Put sets a value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get retrieves the value for key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	val, ok := ec[key]
	return val, ok
}

// GetString retrieves the value for key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	str, ok := ec[key].(string)
	return str, ok
}

// GetInt retrieves the value for key as an int.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec.GetInt64(key)
	return int(v), ok
}

// GetInt64 retrieves the value for key as an int64.
// Numbers decoded from JSON arrive as float64 and are converted.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	switch v := ec[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	}
	return 0, false
}

// GetBool retrieves the value for key as a bool.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	b, ok := ec[key].(bool)
	return b, ok
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	newEC := make(ExecutionContext, len(ec))
	for k, v := range ec {
		newEC[k] = v
	}
	return newEC
}

// Merge copies every entry of other into ec.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// GetNested retrieves a value using a dot-separated key such as "writer.part".
// A top-level key containing dots takes precedence.
func (ec ExecutionContext) GetNested(key string) (interface{}, bool) {
	if val, ok := ec[key]; ok {
		return val, true
	}
	var current interface{} = ec
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// PutNested sets a value under a dot-separated key, creating intermediate maps.
func (ec ExecutionContext) PutNested(key string, value interface{}) {
	parts := strings.Split(key, ".")
	current := map[string]interface{}(ec)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Remove removes key.
func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case ExecutionContext:
		return m, true
	case map[string]interface{}:
		return m, true
	}
	return nil, false
}

func scanBytes(value interface{}, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported Scan type for %s: %T", typeName, value)
}
