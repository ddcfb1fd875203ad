// Package e2e drives the web API end to end: every test boots a fresh
// database sandbox and service process through pkg/environment.
//
// The tests build and run the service with "go run", so they are opt-in. Set
// TESTENV_E2E=1 to run them. The database engine and other settings follow
// the usual TESTENV_* overrides.
package e2e
