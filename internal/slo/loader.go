package slo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadFromDirectory discovers and loads all SLO files from a directory
func LoadFromDirectory(dirPath string) ([]SLOWithFile, []ValidationError) {
	var slos []SLOWithFile
	var errors []ValidationError

	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, errors
	}

	for _, file := range files {
		slo, raw, err := parseYAMLFile(file)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		slos = append(slos, SLOWithFile{
			SLO:  slo,
			File: file,
			raw:  raw,
		})
	}

	return slos, errors
}

// LoadTable validates every SLO file in dirPath and builds the lookup table.
// Any validation error aborts the load.
func LoadTable(dirPath string, validator *Validator) (*Table, error) {
	if errs := validator.ValidateDirectory(dirPath); len(errs) > 0 {
		return nil, fmt.Errorf("SLO validation failed: %d errors (first: %v)", len(errs), errs[0])
	}

	sloFiles, errs := LoadFromDirectory(dirPath)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load SLOs: %d errors", len(errs))
	}
	if len(sloFiles) == 0 {
		return nil, fmt.Errorf("no SLOs found in %s", dirPath)
	}

	defs := make([]Definition, 0, len(sloFiles))
	for _, f := range sloFiles {
		defs = append(defs, f.SLO.Definition())
	}
	return NewTable(defs), nil
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory, sorted
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

// parseYAMLFile parses a single YAML file into an SLO struct and its generic form
func parseYAMLFile(filePath string) (*SLO, any, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, err
	}

	var slo SLO
	if err := yaml.Unmarshal(data, &slo); err != nil {
		return nil, nil, err
	}

	var raw any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, nil, err
	}

	return &slo, raw, nil
}
