package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/layout"
)

// readInput loads path and the layout override into an Input.
func readInput(path, layoutName string, dryRun bool) (core.Input, error) {
	kind, err := layout.ParseKind(layoutName)
	if err != nil {
		return core.Input{}, withCode(exitUsage, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Input{}, withCode(exitInput, fmt.Errorf("read %s: %w", path, err))
	}
	return core.Input{
		FileName: filepath.Base(path),
		Data:     data,
		Layout:   kind,
		DryRun:   dryRun,
	}, nil
}

// inputError tags pipeline failures that come from the file itself.
func inputError(err error) error {
	if err == nil {
		return nil
	}
	return withCode(exitInput, fmt.Errorf("%s: %w", core.FormatUserError(err), err))
}
