// RecBridge - bridge between Rec cloud storage and a PanDav WebDAV endpoint.
//
// Runs as a REST service (recbridge serve) or as one-shot command-line
// transfers sharing the same orchestration engine.
package main

import "github.com/reclabs/recbridge/internal/cli"

func main() {
	cli.Execute()
}
