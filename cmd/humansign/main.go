// humansign seals keystroke provenance into signed tokens and verifies them.
//
//	humansign init                            Create config and signing key
//	humansign seal <doc> --events <file>      Seal recorded events with a document
//	humansign verify <artifact> [-d <doc>]    Verify an artifact
//	humansign serve                           Run the HTTP daemon
package main

import "humansign/internal/cli"

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Execute(version)
}
