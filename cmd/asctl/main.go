package main

import "github.com/MKhiriev/go-activesync-state/internal/cli"

func main() {
	cli.Execute()
}
