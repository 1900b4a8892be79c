package cmd

import (
	"github.com/stepflow-io/stepflow/pkg/directory"
	"github.com/stepflow-io/stepflow/pkg/engine"
)

// NewDirectory builds the identity directory. Without an accounts service URL
// the empty static directory is used; internal runs still work since they
// carry their starter.
func NewDirectory(baseURL string) engine.Directory {
	if baseURL == "" {
		return &directory.Static{}
	}

	return directory.NewHTTPDirectory(baseURL)
}
