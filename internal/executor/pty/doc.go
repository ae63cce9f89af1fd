/*
Package pty runs shells on pseudo-terminals for the reference executor.

Each session is a shell started with TERM=xterm-256color. Output is pushed
to a callback as it arrives; a multi-byte character split across two reads
is held back until it is complete. Commands typed through Run are kept in
a short history.
*/
package pty
