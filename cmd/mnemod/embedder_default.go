//go:build !onnx

package main

import (
	"flag"

	"github.com/tea-party/mnemo/memory"
	"github.com/tea-party/mnemo/memory/embedder/mock"
)

// Without the onnx build tag the server embeds with the deterministic mock.
// Good for wiring and tests; rebuild with -tags onnx for real similarity.
func newEmbedder() (memory.Embedder, error) {
	return mock.New(), nil
}

func embedderFlags(fs *flag.FlagSet) {}
