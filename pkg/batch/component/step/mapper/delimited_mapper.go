// Package mapper provides port.RecordMapper implementations.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// DelimitedMapperConfig holds the tokenizer settings of a DelimitedMapper.
type DelimitedMapperConfig struct {
	// Delimiter separates fields. Defaults to ",".
	Delimiter string `mapstructure:"delimiter"`
	// Quote encloses fields that contain the delimiter. A doubled quote inside a quoted
	// field is a literal quote. Empty disables quoting.
	Quote string `mapstructure:"quote"`
	// Fields names the tokens in order. Names are matched against the mapstructure tags of T.
	Fields []string `mapstructure:"fields"`
}

// DelimitedMapper tokenizes a line and binds the tokens to a T.
type DelimitedMapper[T any] struct {
	delimiter string
	quote     rune
	fields    []string
}

var _ port.RecordMapper = (*DelimitedMapper[struct{}])(nil)

// NewDelimitedMapper creates a DelimitedMapper binding cfg.Fields to T.
func NewDelimitedMapper[T any](cfg DelimitedMapperConfig) (*DelimitedMapper[T], error) {
	if len(cfg.Fields) == 0 {
		return nil, exception.NewConfigurationError("delimited mapper: at least one field name is required", nil)
	}
	delimiter := cfg.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	var quote rune
	if cfg.Quote != "" {
		if utf8.RuneCountInString(cfg.Quote) != 1 {
			return nil, exception.NewConfigurationError(fmt.Sprintf("delimited mapper: quote must be a single character, got %q", cfg.Quote), nil)
		}
		quote, _ = utf8.DecodeRuneInString(cfg.Quote)
		if strings.ContainsRune(delimiter, quote) {
			return nil, exception.NewConfigurationError("delimited mapper: quote and delimiter must differ", nil)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Fields))
	for _, name := range cfg.Fields {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup || name == "" {
			return nil, exception.NewConfigurationError(fmt.Sprintf("delimited mapper: invalid or duplicate field name %q", name), nil)
		}
		seen[key] = struct{}{}
	}
	return &DelimitedMapper[T]{delimiter: delimiter, quote: quote, fields: cfg.Fields}, nil
}

// Map implements port.RecordMapper. A wrong token count or a value that cannot be
// converted to the target field type yields a MappingError.
func (m *DelimitedMapper[T]) Map(ctx context.Context, record model.RawRecord) (any, error) {
	tokens, err := m.Tokenize(record.Line)
	if err != nil {
		return nil, exception.NewMappingError(record.Offset, record.Line, err)
	}
	if len(tokens) != len(m.fields) {
		return nil, exception.NewMappingError(record.Offset, record.Line,
			fmt.Errorf("expected %d fields %v, got %d", len(m.fields), m.fields, len(tokens)))
	}

	values := make(map[string]any, len(tokens))
	for i, name := range m.fields {
		values[name] = tokens[i]
	}

	var item T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &item,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, exception.NewBatchError("mapper", "failed to create decoder", err, false, false)
	}
	if err := decoder.Decode(values); err != nil {
		return nil, exception.NewMappingError(record.Offset, record.Line, err)
	}
	return item, nil
}

// Tokenize splits line on the delimiter, honouring quotes, and trims every token.
func (m *DelimitedMapper[T]) Tokenize(line string) ([]string, error) {
	if m.quote == 0 {
		tokens := strings.Split(line, m.delimiter)
		for i := range tokens {
			tokens[i] = strings.TrimSpace(tokens[i])
		}
		return tokens, nil
	}

	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(line); {
		r, size := utf8.DecodeRuneInString(line[i:])
		switch {
		case quoted && r == m.quote:
			next, nextSize := utf8.DecodeRuneInString(line[i+size:])
			if i+size < len(line) && next == m.quote {
				current.WriteRune(m.quote)
				i += size + nextSize
				continue
			}
			quoted = false
		case quoted:
			current.WriteRune(r)
		case r == m.quote && strings.TrimSpace(current.String()) == "":
			current.Reset()
			quoted = true
		case strings.HasPrefix(line[i:], m.delimiter):
			tokens = append(tokens, strings.TrimSpace(current.String()))
			current.Reset()
			i += len(m.delimiter)
			continue
		default:
			current.WriteRune(r)
		}
		i += size
	}
	if quoted {
		return nil, errors.New("unterminated quoted field")
	}
	return append(tokens, strings.TrimSpace(current.String())), nil
}
