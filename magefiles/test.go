// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// integrationPkgs hold the adapter tests that start Postgres and MongoDB
// containers.
var integrationPkgs = []string{
	"./internal/sqldb/...",
	"./internal/mongodb/...",
}

// Test groups test targets (all, unit, integration).
type Test mg.Namespace

// All runs every test. Container-backed tests skip themselves when no
// container runtime is available.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs the tests in short mode, which skips the container-backed ones.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Integration runs the Postgres and MongoDB adapter tests.
func (Test) Integration() error {
	args := append([]string{"test", "-v", "-run", "Postgres|Mongo"}, integrationPkgs...)
	return sh.RunV(binGo, args...)
}
