//go:build onnx

package main

import (
	"flag"

	"github.com/tea-party/mnemo/memory"
	"github.com/tea-party/mnemo/memory/embedder/onnx"
)

var (
	modelPath     string
	tokenizerPath string
	libraryPath   string
)

func newEmbedder() (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		LibraryPath:   libraryPath,
	})
}

func embedderFlags(fs *flag.FlagSet) {
	fs.StringVar(&modelPath, "model", "model.onnx", "path to the ONNX model")
	fs.StringVar(&tokenizerPath, "tokenizer", "tokenizer.json", "path to tokenizer.json")
	fs.StringVar(&libraryPath, "onnx-lib", "", "path to libonnxruntime.so")
}
