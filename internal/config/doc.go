// Package config resolves ingest/replay runtime options and process settings.
//
// Runtime options arrive either inline with a call (RuntimeInput) or from an
// option file (.yaml, .json, .jsonc) validated against an embedded CUE
// schema. Resolve applies defaults and clamps every numeric option, so the
// rest of the system only ever sees a complete RuntimeOptions value.
//
// Process settings (database path, log level, default option file) come from
// the environment, optionally seeded from a .env file.
package config
