package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	DefaultMaxTokens = 800
	DefaultOverlap   = 120

	// cl100k_base counts Korean at roughly one token per syllable, which
	// keeps window sizes comparable across Korean and English prose.
	encodingName = "cl100k_base"
)

// Piece is one chunk window. StartTok and EndTok index into the token
// stream of the full text, so consecutive pieces overlap by the configured
// amount and together cover every token exactly once outside overlaps.
type Piece struct {
	Text     string
	Index    int
	StartTok int
	EndTok   int
}

type Chunker struct {
	enc *tiktoken.Tiktoken
}

func New() (*Chunker, error) {
	// Embedded BPE assets; the default loader fetches them over the network.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &Chunker{enc: enc}, nil
}

// Chunk windows text into token slices of at most maxTokens, each window
// starting maxTokens-overlap after the previous. Windows whose decoded text
// trims to empty are dropped. overlap must be smaller than maxTokens.
func (c *Chunker) Chunk(text string, maxTokens, overlap int) ([]Piece, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxTokens {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than max tokens %d", overlap, maxTokens)
	}

	if strings.TrimSpace(text) == "" {
		return []Piece{}, nil
	}

	toks := c.enc.Encode(text, nil, nil)
	n := len(toks)
	if n == 0 {
		return []Piece{}, nil
	}

	step := maxTokens - overlap
	pieces := make([]Piece, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := start + maxTokens
		if end > n {
			end = n
		}
		decoded := strings.TrimSpace(c.enc.Decode(toks[start:end]))
		if decoded != "" {
			pieces = append(pieces, Piece{
				Text:     decoded,
				Index:    len(pieces),
				StartTok: start,
				EndTok:   end,
			})
		}
		if end == n {
			break
		}
	}
	return pieces, nil
}

// CountTokens reports how many tokens text encodes to.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
