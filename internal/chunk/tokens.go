package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter accepts an encoding name or a model name.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			return nil, fmt.Errorf("tiktoken encoding %q: %w", modelOrEncoding, err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
