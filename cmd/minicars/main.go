package main

import (
	"github.com/Paintersrp/minicars/internal/cli"
	"github.com/Paintersrp/minicars/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
