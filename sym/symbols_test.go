package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}
}

func TestMapsHaveSameSize(t *testing.T) {
	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
	if len(CommandDescriptions) != len(CommandToSymbol) {
		t.Errorf("every command needs a description: %d descriptions for %d commands",
			len(CommandDescriptions), len(CommandToSymbol))
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, glyph := range []string{AM, Pulse, PulseOpen, PulseClose, DB, Notify, Workflow, Rollback, Doc} {
		if n := utf8.RuneCountInString(glyph); n != 1 {
			t.Errorf("glyph %q has %d runes, want 1", glyph, n)
		}
	}
}

func TestForCommand(t *testing.T) {
	if got := ForCommand("pulse"); got != Pulse {
		t.Errorf("ForCommand(pulse) = %q, want %q", got, Pulse)
	}
	if got := ForCommand("nope"); got != "" {
		t.Errorf("ForCommand(nope) = %q, want empty", got)
	}
}
