// Package prompts contains MCP prompt implementations for trafficlab.
package prompts

// Config holds configuration needed by prompts.
type Config struct {
	CertDir          string
	BodyIndexEnabled bool
}
