// Command docsign places signature images on documents.
//
// Usage:
//
//	docsign <command> [options] <args>
//
// Commands:
//
//	detect   Suggest where a signature should go
//	sign     Place a signature image and export the signed document
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# List candidate positions on page 2
//	docsign detect -page 2 contract.pdf
//
//	# Sign at the best detected position
//	docsign sign -image sig.png -auto -name "Ana Pérez" contract.pdf
//
// Label detection with Tesseract OCR needs the tesseract build tag:
//
//	go build -tags tesseract ./cmd/docsign
package main

import (
	"os"

	"github.com/georgepadayatti/docsign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/docsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
