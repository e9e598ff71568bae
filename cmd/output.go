package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// encode writes v to w as indented JSON or YAML.
func encode(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case "", formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// openOutput returns stdout for "" or "-", otherwise creates path.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, fmt.Sprintf("create output %s", path))
	}
	return f, f.Close, nil
}
