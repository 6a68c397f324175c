package jsl

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// JSLDefinitionBytes holds the content of a job definition file.
type JSLDefinitionBytes []byte

// LoadJSLDefinitionFromBytes parses and checks a job definition.
func LoadJSLDefinitionFromBytes(data JSLDefinitionBytes) (*Job, error) {
	var jobDef Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&jobDef); err != nil {
		return nil, exception.NewConfigurationError("failed to parse job definition", err)
	}

	if jobDef.ID == "" {
		return nil, exception.NewConfigurationError("'id' is not defined in job definition", nil)
	}
	if jobDef.Name == "" {
		jobDef.Name = jobDef.ID
	}
	if len(jobDef.Flow.Elements) == 0 {
		return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s' flow does not have 'elements' defined", jobDef.ID), nil)
	}
	for i, e := range jobDef.Flow.Elements {
		if (e.Step == nil) == (e.Split == nil) {
			return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s' flow element %d must define exactly one of 'step' or 'split'", jobDef.ID, i), nil)
		}
	}

	logger.Infof("Loaded job definition '%s' (%d flow elements).", jobDef.ID, len(jobDef.Flow.Elements))
	return &jobDef, nil
}

// LoadJSLDefinitionFromFile reads and parses the job definition at path.
func LoadJSLDefinitionFromFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("failed to read job definition %s", path), err)
	}
	return LoadJSLDefinitionFromBytes(data)
}
