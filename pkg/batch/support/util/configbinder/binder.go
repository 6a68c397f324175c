// Package configbinder binds the string properties of job definition components to typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties takes a map of string properties (from a job definition) and binds them to target.
// The target struct uses `yaml` tags. Strings are converted weakly to numbers, bools and durations,
// and comma-separated strings to slices. A property with no matching field is an error.
func BindProperties(props map[string]string, target interface{}) error {
	return BindPropertiesTag(props, target, "yaml")
}

// BindPropertiesTag is BindProperties matching fields by tagName instead of `yaml`.
func BindPropertiesTag(props map[string]string, target interface{}, tagName string) error {
	if len(props) == 0 {
		return nil
	}

	// mapstructure requires map[string]interface{} as input.
	intermediateMap := make(map[string]interface{}, len(props))
	for k, v := range props {
		intermediateMap[k] = v
	}

	config := &mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          tagName,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(intermediateMap); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}
