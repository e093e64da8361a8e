//go:build !onnx

package main

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/config"
	"github.com/picobot/picobot/memory"
)

// localEmbedder is only available in builds with the onnx tag.
func localEmbedder(cfg config.Config, logger *log.Logger) (memory.Embedder, error) {
	return nil, fmt.Errorf("local embeddings require a build with the onnx tag")
}
