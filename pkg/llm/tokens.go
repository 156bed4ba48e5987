package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

// EstimateTokens returns the token count of text for the given model, used by
// the formatter to pick between complete and sample+code modes. Falls back to
// the len/4 heuristic when no encoding is available (e.g. offline).
func EstimateTokens(model, text string) int {
	enc := encodingFor(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func encodingFor(model string) *tiktoken.Tiktoken {
	encodingMu.RLock()
	enc, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}

	encodingMu.Lock()
	encodingCache[model] = enc
	encodingMu.Unlock()
	return enc
}
