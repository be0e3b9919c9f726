package ingestion

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	DefaultSentenceChunkWords = 1500
	DefaultTokenChunkSize     = 5000
	DefaultTokenModel         = "gpt-3.5-turbo"
)

// Chunker splits text into an ordered, lazily produced sequence of chunks.
type Chunker interface {
	Chunks(text string) iter.Seq[string]
}

// SentenceSplitter breaks text into sentences.
type SentenceSplitter interface {
	Split(text string) []string
}

type punktSplitter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

// NewSentenceSplitter returns an English sentence splitter backed by the
// pretrained punkt model bundled with neurosnap/sentences.
func NewSentenceSplitter() (SentenceSplitter, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load sentence tokenizer: %w", err)
	}
	return punktSplitter{tokenizer: tokenizer}, nil
}

func (s punktSplitter) Split(text string) []string {
	tokens := s.tokenizer.Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, sent := range tokens {
		if t := strings.TrimSpace(sent.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SentenceChunker packs whole sentences into chunks of at most MaxWords
// words. A sentence longer than MaxWords becomes a chunk of its own.
type SentenceChunker struct {
	MaxWords int
	splitter SentenceSplitter
}

func NewSentenceChunker(maxWords int, splitter SentenceSplitter) *SentenceChunker {
	if maxWords <= 0 {
		maxWords = DefaultSentenceChunkWords
	}
	return &SentenceChunker{MaxWords: maxWords, splitter: splitter}
}

func (c *SentenceChunker) Chunks(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}

		var (
			current []string
			words   int
		)
		for _, sentence := range c.splitter.Split(text) {
			n := WordCount(sentence)
			if words+n <= c.MaxWords || len(current) == 0 {
				current = append(current, sentence)
				words += n
				continue
			}
			if !yield(strings.Join(current, " ")) {
				return
			}
			current = []string{sentence}
			words = n
		}
		if len(current) > 0 {
			yield(strings.Join(current, " "))
		}
	}
}

// Tokenizer converts text to model tokens and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

var offlineBpe sync.Once

// NewTiktokenTokenizer loads the BPE encoding used by model from the ranks
// embedded in the binary, so no network access is needed.
func NewTiktokenTokenizer(model string) (Tokenizer, error) {
	if model == "" {
		model = DefaultTokenModel
	}
	offlineBpe.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding for %s: %w", model, err)
	}
	return tiktokenTokenizer{enc: enc}, nil
}

func (t tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// TokenChunker slices the token stream into fixed windows of Size tokens and
// decodes each window on its own. The last window may be shorter.
type TokenChunker struct {
	Size      int
	tokenizer Tokenizer
}

func NewTokenChunker(size int, tokenizer Tokenizer) *TokenChunker {
	if size <= 0 {
		size = DefaultTokenChunkSize
	}
	return &TokenChunker{Size: size, tokenizer: tokenizer}
}

func (c *TokenChunker) Chunks(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		tokens := c.tokenizer.Encode(text)
		for start := 0; start < len(tokens); start += c.Size {
			end := min(start+c.Size, len(tokens))
			if !yield(c.tokenizer.Decode(tokens[start:end])) {
				return
			}
		}
	}
}
