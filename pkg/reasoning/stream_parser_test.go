package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamParser_SingleChunk(t *testing.T) {
	p := NewStreamParser()
	emit := p.Feed("<think>hello world</think>{\"tool\":\"think\"}")
	assert.Equal(t, "hello world", emit)
	assert.True(t, p.Done())
	assert.Equal(t, `{"tool":"think"}`, p.PostThink())
}

func TestStreamParser_SplitAcrossChunks(t *testing.T) {
	p := NewStreamParser()
	var out string
	out += p.Feed("<thi")
	out += p.Feed("nk>partial rea")
	out += p.Feed("soning here</th")
	out += p.Feed("ink>{\"tool\":\"complete\"}")
	assert.Equal(t, "partial reasoning here", out)
	assert.Equal(t, `{"tool":"complete"}`, p.PostThink())
}

func TestStreamParser_NeverLeaksPartialCloseTag(t *testing.T) {
	p := NewStreamParser()
	var out string
	out += p.Feed("<think>abc")
	out += p.Feed("def</thi")
	out += p.Feed("nk>rest")
	assert.NotContains(t, out, "</th")
	assert.Equal(t, "abcdef", out)
	assert.Equal(t, "rest", p.PostThink())
}
