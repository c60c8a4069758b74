// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind selects which embedded JSON schema to validate against.
type Kind int

const (
	// ScenarioDef validates the JSON definition stored in scenarios.def (spec §3, §4.8 "Load").
	ScenarioDef Kind = iota + 1
	// BackendReply validates a backend's `ok`/`error` reply envelope (spec §6).
	BackendReply
	// ProcessConfig validates this repository's own process configuration (see internal/config).
	ProcessConfig
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadEmbedded(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadEmbedded
}

// Validate decodes r as JSON and checks it against the embedded schema for k.
func Validate(k Kind, r io.Reader) error {
	var s *jsonschema.Schema
	var err error

	switch k {
	case ScenarioDef:
		s, err = jsonschema.Compile("embedFS://schemas/scenario.schema.json")
	case BackendReply:
		s, err = jsonschema.Compile("embedFS://schemas/backend-reply.schema.json")
	case ProcessConfig:
		s, err = jsonschema.Compile("embedFS://schemas/config.schema.json")
	default:
		return fmt.Errorf("schema: unknown kind %d", k)
	}
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		log.Errorf("schema.Validate() - failed to decode: %v", err)
		return err
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%#v", err)
	}
	return nil
}
