// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the connector project using Mage.
//
// Usage:
//
//	mage build             Compile the connector binary to bin/
//	mage install           Install connector to GOPATH/bin
//	mage clean             Remove build artifacts
//	mage lint              Run golangci-lint
//	mage test:all          Run all tests, starting containers where needed
//	mage test:unit         Run tests in short mode (no containers)
//	mage test:integration  Run only the container-backed adapter tests
package main
