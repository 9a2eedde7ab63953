package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps model name prefixes to their tiktoken encoding and
// context window.
var modelEncodings = []struct {
	prefix    string
	encoding  string
	maxTokens int
}{
	{"gpt-4o-mini", "o200k_base", 128000},
	{"gpt-4o", "o200k_base", 128000},
	{"gpt-4.1", "o200k_base", 1000000},
	{"gpt-4-turbo", "cl100k_base", 128000},
	{"gpt-4", "cl100k_base", 8192},
	{"gpt-3.5-turbo", "cl100k_base", 16385},
}

const (
	defaultEncoding      = "cl100k_base"
	defaultContextWindow = 8192
	// chat framing per message: <|start|>role\n content<|end|>\n
	messageOverhead = 4

	conversationOverhead = 3
)

// getEncoding loads BPE ranks; it may download them on first use.
var getEncoding = tiktoken.GetEncoding

// TokenCounter counts prompt tokens for a model. When the encoding cannot
// be loaded it falls back to a four-characters-per-token estimate.
type TokenCounter struct {
	model         string
	encoding      string
	contextWindow int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTokenCounter resolves the encoding for model.
func NewTokenCounter(model string) *TokenCounter {
	c := &TokenCounter{model: model, encoding: defaultEncoding, contextWindow: defaultContextWindow}
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			c.encoding = m.encoding
			c.contextWindow = m.maxTokens
			break
		}
	}
	return c
}

func (c *TokenCounter) init() error {
	c.once.Do(func() {
		enc, err := getEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Exact reports whether counts come from the real encoding.
func (c *TokenCounter) Exact() bool {
	return c.init() == nil
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if c.init() != nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountChat counts a system + user exchange including chat framing.
func (c *TokenCounter) CountChat(systemPrompt, userPrompt string) int {
	total := conversationOverhead
	for _, m := range [][2]string{{"system", systemPrompt}, {"user", userPrompt}} {
		total += messageOverhead + c.Count(m[0]) + c.Count(m[1])
	}
	return total
}

// ContextWindow is the model's total token window.
func (c *TokenCounter) ContextWindow() int { return c.contextWindow }

// Encoding names the tiktoken encoding in use.
func (c *TokenCounter) Encoding() string { return c.encoding }

func estimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
