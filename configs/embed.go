// Package configs provides embedded configuration templates for megabrain.
//
// Templates are embedded at build time using Go's //go:embed directive, so
// they ship inside the binary for source builds and binary releases alike.
//
// The templates are used by:
//   - cmd/megabrain/cmd/config.go → `megabrain config init` writes
//     ~/.config/megabrain/config.yaml from UserConfigTemplate.
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config.NewConfig())
//  2. User config (~/.config/megabrain/config.yaml)
//  3. Project config (.megabrain.yaml)
//  4. Environment variables (MEGABRAIN_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `megabrain config init` at ~/.config/megabrain/config.yaml.
// Contains machine-specific settings: embedding provider, Ollama host, server transport.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration
// (.megabrain.yaml), version-controlled alongside the repository it tunes.
// Contains per-repo settings: path excludes, boost/weight tuning, submodules.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
