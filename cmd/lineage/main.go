package main

import (
	"github.com/Paintersrp/lineage/internal/cli"
	"github.com/Paintersrp/lineage/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
