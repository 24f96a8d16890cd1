// Package plantree provides embedded runtime resources.
package plantree

import (
	_ "embed"
)

// ConfigTemplate is the commented default config written by `plantree init`.
//
//go:embed templates/config.yaml.template
var ConfigTemplate []byte
