// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package config loads instance configuration from HCL.
//
// Example file:
//
//	log_level = "info"
//
//	instance "trainer" {
//	  isolated_state = true
//	  optimizer "sgd" {
//	    learning_rate = var.lr
//	    momentum      = 0.9
//	  }
//	}
//
// Load it with values for var.*:
//
//	f, err := config.Load("weaver.hcl", map[string]cty.Value{"lr": cty.NumberFloatVal(0.01)})
//	inst, err := instance.FromConfig(model, f, "trainer")
package config

import (
	"github.com/born-ml/weaver/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// File is a decoded configuration file.
type File = config.File

// Instance configures one module binding.
type Instance = config.Instance

// Optimizer configures the optimizer of an instance.
type Optimizer = config.Optimizer

var (
	// ErrUnknownInstance is returned for a missing instance block.
	ErrUnknownInstance = config.ErrUnknownInstance

	// ErrInvalid is returned for configuration that makes no sense.
	ErrInvalid = config.ErrInvalid
)

// Parse decodes HCL source.
func Parse(src []byte, filename string, vars map[string]cty.Value) (*File, error) {
	return config.Parse(src, filename, vars)
}

// Load reads and decodes an HCL file.
func Load(path string, vars map[string]cty.Value) (*File, error) {
	return config.Load(path, vars)
}
