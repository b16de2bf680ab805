package main

import (
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/cmd"
)

func main() {
	cmd.Execute()
}
