// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config.yaml. Every key can be
// set through an SCRY_ prefixed variable, for example SCRY_LLM_API_KEY.
package config
