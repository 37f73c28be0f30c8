// Package sym defines the glyphs jobpulse uses to mark subsystems in logs and CLI output.
// These symbols are stable across the CLI, structured logs and documentation.
package sym

// Subsystem glyphs.
const (
	AM         = "≡" // am: configuration and system settings
	Pulse      = "꩜" // timer dispatch and handler execution
	PulseOpen  = "✿" // graceful startup with stale timer reconciliation
	PulseClose = "❀" // graceful shutdown, in-flight handlers drained
	DB         = "⊔" // database/storage layer
	Notify     = "✉" // notification fan-out and persistence
	Workflow   = "⟶" // document-generation workflow transitions
	Rollback   = "⟲" // rollback of an application action
	Doc        = "▤" // generated documents (resume, cover letter)
)

// entry binds a glyph to the CLI command that manages it.
type entry struct {
	glyph       string
	command     string
	description string
}

var registry = []entry{
	{AM, "am", "Configuration and system settings"},
	{Pulse, "pulse", "Timer dispatch and processing"},
	{DB, "db", "Database migrations and maintenance"},
	{Notify, "notify", "Notification fan-out"},
	{Workflow, "workflow", "Document-generation workflow runs"},
	{Rollback, "rollback", "Reversal of application actions"},
}

// SymbolToCommand maps glyph strings to their command names.
var SymbolToCommand = map[string]string{}

// CommandToSymbol maps command names to their glyph strings.
var CommandToSymbol = map[string]string{}

// CommandDescriptions provides one-line explanations for help output.
var CommandDescriptions = map[string]string{}

func init() {
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
		CommandDescriptions[e.command] = e.description
	}
}

// ForCommand returns the glyph for a command, or the empty string.
func ForCommand(cmd string) string {
	return CommandToSymbol[cmd]
}
