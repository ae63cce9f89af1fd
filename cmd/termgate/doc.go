// Command termgate runs the terminal session gateway and the reference
// execution backend.
//
// Usage:
//
//	# Gateway against a backend on another host
//	termgate serve --port 8000 --backend-url http://tools.internal:5000
//
//	# Reference backend serving the tool catalog in ./tools
//	termgate executor --catalog ./tools
//
// Every flag overrides the matching environment variable. SIGINT and
// SIGTERM shut down gracefully.
package main
