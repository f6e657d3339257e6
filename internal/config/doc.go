// Package config defines the installer settings and provides helpers to
// load, validate and save them in YAML format.
//
// Config carries the fixed install layout, the vendor endpoints and the
// limits used by every component. It is an immutable value: components get
// a copy at construction time, so tests can substitute paths and endpoints.
package config
