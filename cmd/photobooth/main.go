package main

import (
	"os"

	"github.com/blkluv/photo-booth-sogni-sub001/cmd/photobooth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
