//go:build onnx

// Package onnx embeds text locally with a sentence-transformer model run
// through ONNX Runtime. It exists for fully offline operation; the remote
// embedding API is the default path.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	maxSequenceLength = 128
	defaultDimensions = 384 // all-MiniLM-L6-v2

	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Config configures the local embedder.
type Config struct {
	// ModelPath points to the .onnx model file.
	ModelPath string

	// TokenizerPath points to the HuggingFace tokenizer.json next to it.
	TokenizerPath string

	// LibraryPath points to libonnxruntime.so. Optional when the library
	// is already on the loader path.
	LibraryPath string

	// Dimensions is the output vector size.
	Dimensions int

	Logger *log.Logger
}

// Embedder runs a BERT-family sentence encoder locally.
type Embedder struct {
	session *ort.DynamicAdvancedSession
	vocab   map[string]int
	dims    int
	logger  *log.Logger
}

// New initializes the runtime, loads the tokenizer vocabulary and opens an
// inference session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("missing model path")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	cfg.Logger.Info("local embedder ready", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)
	return &Embedder{
		session: session,
		vocab:   vocab,
		dims:    cfg.Dimensions,
		logger:  cfg.Logger,
	}, nil
}

// Embed tokenizes text, runs the encoder and mean-pools the hidden states
// over attended positions into a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inputIDs, attentionMask := e.encode(text)
	tokenTypeIDs := make([]int64, maxSequenceLength)

	shape := ort.NewShape(1, maxSequenceLength)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typesTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	return e.meanPool(hidden, attentionMask)
}

// Dimensions returns the output vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close releases the inference session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func (e *Embedder) meanPool(hidden *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] != int64(e.dims) {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	seqLen := int(shape[1])
	vec := make([]float32, e.dims)
	var attended float32
	for pos := 0; pos < seqLen && pos < len(attentionMask); pos++ {
		if attentionMask[pos] == 0 {
			continue
		}
		attended++
		offset := pos * e.dims
		for j := 0; j < e.dims; j++ {
			vec[j] += data[offset+j]
		}
	}
	if attended == 0 {
		return nil, fmt.Errorf("no attended tokens")
	}

	var norm float64
	for j := range vec {
		vec[j] /= attended
		norm += float64(vec[j]) * float64(vec[j])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
	}
	return vec, nil
}

// encode produces padded [CLS] tokens... [SEP] input ids plus the matching
// attention mask.
func (e *Embedder) encode(text string) (ids, mask []int64) {
	ids = make([]int64, maxSequenceLength)
	mask = make([]int64, maxSequenceLength)

	ids[0] = clsTokenID
	mask[0] = 1
	pos := 1
	for _, tok := range e.tokenize(text) {
		if pos >= maxSequenceLength-1 {
			break
		}
		ids[pos] = tok
		mask[pos] = 1
		pos++
	}
	ids[pos] = sepTokenID
	mask[pos] = 1
	return ids, mask
}

// tokenize is greedy longest-match WordPiece over a lowercased,
// punctuation-stripped word split.
func (e *Embedder) tokenize(text string) []int64 {
	var out []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := e.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}
		out = append(out, e.wordPiece(word)...)
	}
	return out
}

func (e *Embedder) wordPiece(word string) []int64 {
	var out []int64
	start := 0
	for start < len(word) {
		matched := false
		for end := len(word); end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				out = append(out, int64(id))
				start = end
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, unkTokenID)
			start++
		}
	}
	return out
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokenizer struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizer); err != nil {
		return nil, err
	}
	if len(tokenizer.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	return tokenizer.Model.Vocab, nil
}
