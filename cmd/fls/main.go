// Package main provides fls, a tool for exercising fiber local storage.
package main

import (
	"os"
	"strings"

	"github.com/calvinalkan/fiberlocal/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(cli.Run(nil, os.Stdout, os.Stderr, os.Args, env))
}
