package person

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

func TestPerson_String(t *testing.T) {
	assert.Equal(t, "Person{firstName=Jane, lastName=Doe}", Person{FirstName: "Jane", LastName: "Doe"}.String())
}

func TestUpperCaseProcessor(t *testing.T) {
	out, err := UpperCaseProcessor{}.Process(context.Background(), &Person{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, Person{FirstName: "JANE", LastName: "DOE"}, out)

	_, err = UpperCaseProcessor{}.Process(context.Background(), "Jane,Doe")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrProcessing)
}

func TestHasLastName(t *testing.T) {
	assert.True(t, HasLastName(Person{FirstName: "Jane", LastName: "Doe"}))
	assert.False(t, HasLastName(Person{FirstName: "Jane", LastName: "  "}))
	assert.False(t, HasLastName((*Person)(nil)))
	assert.False(t, HasLastName(42))
}
