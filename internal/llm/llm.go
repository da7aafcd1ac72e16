// Package llm is the boundary to the code-generation client. The engine
// prepares and validates clients through a Factory; it never drives the
// conversation itself.
package llm

import "context"

// Client is an opaque handle on a configured code-generation client.
type Client interface {
	// Model names the model the client was configured with.
	Model() string
	// Close releases anything the client holds open.
	Close() error
}

// Factory builds clients for code-generation collaborators.
type Factory interface {
	NewClient(ctx context.Context) (Client, error)
}

// DefaultMaxTurns bounds a single client conversation.
const DefaultMaxTurns = 1000

// DefaultMaxBufferSize caps the transcript buffer of a client run.
const DefaultMaxBufferSize = 10 << 20

// DefaultAllowedTools returns the tool set granted to code-generation
// clients.
func DefaultAllowedTools() []string {
	return []string{
		"Read",
		"Write",
		"Edit",
		"Bash",
		"Glob",
		"Grep",
		"LS",
		"WebFetch",
		"WebSearch",
		"TodoRead",
		"TodoWrite",
		"Task",
	}
}
