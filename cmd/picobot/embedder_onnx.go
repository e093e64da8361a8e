//go:build onnx

package main

import (
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/config"
	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/embedder/onnx"
)

// localEmbedder loads the sentence encoder from workspace/models. Selected
// by setting embedding_model to "local" in the config.
func localEmbedder(cfg config.Config, logger *log.Logger) (memory.Embedder, error) {
	modelDir := filepath.Join(cfg.Workspace, "models")
	return onnx.New(onnx.Config{
		ModelPath:     filepath.Join(modelDir, "model.onnx"),
		TokenizerPath: filepath.Join(modelDir, "tokenizer.json"),
		Logger:        logger,
	})
}
