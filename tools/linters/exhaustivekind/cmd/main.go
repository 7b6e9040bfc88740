package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"supportdesk.app/relay/tools/linters/exhaustivekind"
)

func main() {
	singlechecker.Main(exhaustivekind.Analyzer)
}
