// Package person holds the record type of the default import job.
package person

import (
	"context"
	"fmt"
	"strings"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// Person is one line of the input file. The mapstructure tags are the field names of the
// delimited tokenizer; the other tags serve the SQL, MongoDB and parquet writers.
type Person struct {
	FirstName string `mapstructure:"firstName" gorm:"column:first_name" bson:"firstName" parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `mapstructure:"lastName" gorm:"column:last_name" bson:"lastName" parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// TableName is the table the GORM writer uses when no table is configured.
func (Person) TableName() string {
	return "people"
}

func (p Person) String() string {
	return fmt.Sprintf("Person{firstName=%s, lastName=%s}", p.FirstName, p.LastName)
}

// UpperCaseProcessor returns a copy of the person with both names upper-cased.
type UpperCaseProcessor struct{}

var _ port.ItemProcessor = UpperCaseProcessor{}

func (UpperCaseProcessor) Process(ctx context.Context, item any) (any, error) {
	p, ok := asPerson(item)
	if !ok {
		return nil, exception.NewProcessingError(item, fmt.Errorf("expected person.Person, got %T", item), false)
	}
	return Person{FirstName: strings.ToUpper(p.FirstName), LastName: strings.ToUpper(p.LastName)}, nil
}

// HasLastName reports whether item is a person with a non-blank last name.
func HasLastName(item any) bool {
	p, ok := asPerson(item)
	return ok && strings.TrimSpace(p.LastName) != ""
}

func asPerson(item any) (Person, bool) {
	switch p := item.(type) {
	case Person:
		return p, true
	case *Person:
		if p == nil {
			return Person{}, false
		}
		return *p, true
	}
	return Person{}, false
}
