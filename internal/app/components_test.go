package app_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/internal/person"
	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/writer"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

func TestComponents_CompositeProcessor(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	comps := a.Components()

	p, err := comps.Processors["compositeProcessor"](a.BuildContext(), map[string]string{
		"delegates": "missingLastNameFilter, upperCaseProcessor",
	})
	require.NoError(t, err)

	got, err := p.Process(context.Background(), person.Person{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, person.Person{FirstName: "JANE", LastName: "DOE"}, got)

	got, err = p.Process(context.Background(), person.Person{FirstName: "Cher"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestComponents_CompositeProcessorRejectsUnknownDelegates(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	build := a.Components().Processors["compositeProcessor"]

	for _, delegates := range []string{"", "nope", "compositeProcessor"} {
		_, err := build(a.BuildContext(), map[string]string{"delegates": delegates})
		assert.ErrorIs(t, err, exception.ErrConfiguration, delegates)
	}
}

func TestComponents_DelimitedMapperProperties(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	build := a.Components().Mappers["delimitedMapper"]

	m, err := build(a.BuildContext(), map[string]string{"delimiter": ";", "fields": "lastName,firstName"})
	require.NoError(t, err)
	got, err := m.Map(context.Background(), rawRecord(0, "Doe;Jane"))
	require.NoError(t, err)
	assert.Equal(t, person.Person{FirstName: "Jane", LastName: "Doe"}, got)

	_, err = build(a.BuildContext(), map[string]string{"separator": ";"})
	assert.Error(t, err)
}

func TestComponents_GormWriterNeedsSQLRepository(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	_, err := a.Components().Writers["gormWriter"](a.BuildContext(), nil)
	assert.ErrorIs(t, err, exception.ErrConfiguration)
}

func TestComponents_ParquetWriterUsesConfiguredStorage(t *testing.T) {
	cfg := memoryConfig("log.txt")
	cfg.Lubatch.Infrastructure.Storage.BaseDir = t.TempDir()
	var out bytes.Buffer
	a := newApp(t, cfg, &out)

	w, err := a.Components().Writers["parquetWriter"](a.BuildContext(), map[string]string{"outputDir": "people"})
	require.NoError(t, err)
	assert.IsType(t, &writer.ParquetWriter[person.Person]{}, w)

	_, err = a.Components().Writers["parquetWriter"](a.BuildContext(), nil)
	assert.ErrorIs(t, err, exception.ErrConfiguration)
}

func TestComponents_MongoWriterRequiresTarget(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	_, err := a.Components().Writers["mongoWriter"](a.BuildContext(), map[string]string{"database": "lubatch"})
	assert.ErrorIs(t, err, exception.ErrConfiguration)
}

func TestComponents_FlatFileSourceRejectsUnknownScheme(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	_, err := a.Components().Sources["flatFileSource"](a.BuildContext(), map[string]string{"resource": "s3://bucket/log.txt"})
	assert.ErrorIs(t, err, exception.ErrConfiguration)
}

func TestComponents_UnknownListenerRefFailsBuild(t *testing.T) {
	var out bytes.Buffer
	a := newApp(t, memoryConfig("log.txt"), &out)
	def := loadDefinition(t, `
id: broken
listeners:
  - ref: missingListener
flow:
  elements:
    - step:
        id: step1
        source: {ref: flatFileSource}
        mapper: {ref: delimitedMapper}
        writer: {ref: noOpWriter}
`)
	_, err := a.BuildJob(def)
	assert.ErrorIs(t, err, exception.ErrConfiguration)
}
