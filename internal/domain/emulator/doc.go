// Package emulator renders one terminal session.
//
// A Surface is the rendering target a session draws on: it has dimensions,
// zero or more attached viewers receiving rendered bytes, and an input sink
// fed by those viewers. Surfaces are mounted on a Host under a reference
// string and looked up by the session registry when a session attaches.
//
// An Emulator binds to exactly one Surface. Screen is the headless
// implementation used by the gateway: it keeps a bounded scrollback that is
// replayed to viewers when they attach and forwards bytes unframed, leaving
// escape sequence parsing to the viewer's terminal.
//
// An Observer watches a Surface's dimensions and reports every change,
// including the initial size.
package emulator
