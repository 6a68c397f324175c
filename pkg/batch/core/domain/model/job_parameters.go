package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// RunIDKey is the job parameter carrying the run identifier.
const RunIDKey = "run.id"

// JobParameters holds the parameters that identify a job instance.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters creates an empty JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	jp.Params = make(map[string]interface{})
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &jp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}

// Put sets a parameter.
func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

// Get retrieves a parameter, or nil.
func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

// GetString retrieves a parameter as a string.
func (jp JobParameters) GetString(key string) (string, bool) {
	str, ok := jp.Params[key].(string)
	return str, ok
}

// GetInt64 retrieves a numeric parameter. Strings holding integers are accepted.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	switch v := jp.Params[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// RunID returns the run identifier, if set.
func (jp JobParameters) RunID() (int64, bool) {
	return jp.GetInt64(RunIDKey)
}

// Copy returns a shallow copy.
func (jp JobParameters) Copy() JobParameters {
	c := NewJobParameters()
	for k, v := range jp.Params {
		c.Params[k] = v
	}
	return c
}

// Equal compares two JobParameters.
func (jp JobParameters) Equal(other JobParameters) bool {
	return reflect.DeepEqual(jp.Params, other.Params)
}

// Hash returns a stable sha256 digest of the parameters, independent of key order
// and of whether numbers were decoded from JSON.
func (jp JobParameters) Hash() (string, error) {
	canonical, err := canonicalJSON(jp.Params)
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "Failed to marshal JobParameters to canonical JSON for hash calculation", err, false, false)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(val interface{}) ([]byte, error) {
	m, ok := val.(map[string]interface{})
	if !ok {
		return json.Marshal(normalizeNumber(val))
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valBytes, err := canonicalJSON(m[k])
		if err != nil {
			return nil, err
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.Write(keyBytes)
		sb.WriteByte(':')
		sb.Write(valBytes)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// normalizeNumber maps integral floats to int64 so a parameter hashes the same
// before and after a JSON round trip.
func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	return v
}

// Masked returns a copy of the parameters with the given keys replaced by asterisks.
func (jp JobParameters) Masked(keys []string) map[string]interface{} {
	masked := make(map[string]interface{}, len(jp.Params))
	for k, v := range jp.Params {
		masked[k] = v
	}
	for _, key := range keys {
		if _, ok := masked[key]; ok {
			masked[key] = "********"
		}
	}
	return masked
}

// String returns the parameters as JSON.
func (jp JobParameters) String() string {
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return fmt.Sprintf("{[ERROR: %v]}", err)
	}
	return string(data)
}
