// Package mangle is a thin public re-export of internal/mangle, so that
// external Agent implementations can share its Datalog fact/engine
// helpers without reaching into an internal package.
package mangle

import (
	"github.com/kpernyer/converge/internal/mangle"
)

type (
	Engine           = mangle.Engine
	Config           = mangle.Config
	Fact             = mangle.Fact
	SchemaValidator  = mangle.SchemaValidator
)

var (
	NewEngine          = mangle.NewEngine
	DefaultConfig      = mangle.DefaultConfig
	NewSchemaValidator = mangle.NewSchemaValidator
)
