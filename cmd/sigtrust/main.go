// Command sigtrust evaluates the long-term validity of advanced electronic
// signatures.
//
// Usage:
//
//	sigtrust <command> [flags]
//
// Commands:
//
//	evaluate  Evaluate the long-term validity of signature bundles
//	version   Print version information
//
// Examples:
//
//	# Evaluate a bundle against a trust anchor
//	sigtrust evaluate --bundle signature.yaml --trust-anchor root.pem
//
//	# Strict policy with JSON output
//	sigtrust evaluate --bundle signature.yaml --policy strict --json
//
// Version information is set at build time through the
// sigs.k8s.io/release-utils/version ldflags.
package main

import "github.com/georgepadayatti/sigtrust/cli"

func main() {
	cli.Execute()
}
