package main

import (
	"fmt"
	"os"

	_ "github.com/refmesh/refmesh/pkg/logger"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
