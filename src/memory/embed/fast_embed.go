//go:build fastembed

package embed

import (
	"context"
	"fmt"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder runs a local ONNX embedding model. Heavy native dependency,
// so it is only compiled in with -tags fastembed.
type FastEmbedder struct {
	fe *fastembed.FlagEmbedding
}

func defaultFastEmbedOptions() *Options {
	return &Options{MaxLen: 512}
}

func NewFastEmbed(_ context.Context, opt *Options) (Embedder, error) {
	if opt == nil {
		opt = defaultFastEmbedOptions()
	}
	init := fastembed.InitOptions{
		Model:     fastembed.BGESmallEN,
		CacheDir:  opt.CacheDir,
		MaxLength: opt.MaxLen,
	}
	if opt.Model != "" {
		init.Model = fastembed.EmbeddingModel(opt.Model)
	}
	fe, err := fastembed.NewFlagEmbedding(&init)
	if err != nil {
		return nil, fmt.Errorf("fastembed init: %w", err)
	}
	return &FastEmbedder{fe: fe}, nil
}

func (f *FastEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.fe.QueryEmbed(text)
}

func (f *FastEmbedder) Close() error {
	return f.fe.Destroy()
}
