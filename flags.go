package sentry

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	defaultMaxFlags = 100
	flagsContextKey = "flags"
)

// FlagEvaluation is one feature flag result reported in contexts.flags.
type FlagEvaluation struct {
	Flag   string `json:"flag"`
	Result bool   `json:"result"`
}

// flagBuffer keeps the most recently evaluated feature flags. Re-evaluating
// a flag moves it to the newest end without growing the buffer; a new flag
// at capacity evicts the least recently evaluated one.
type flagBuffer struct {
	lru      *simplelru.LRU[string, bool]
	capacity int
}

func newFlagBuffer(capacity int) *flagBuffer {
	if capacity <= 0 {
		capacity = defaultMaxFlags
	}
	// NewLRU only fails for a non-positive size.
	l, _ := simplelru.NewLRU[string, bool](capacity, nil)
	return &flagBuffer{lru: l, capacity: capacity}
}

func (b *flagBuffer) set(flag string, result bool) { b.lru.Add(flag, result) }

func (b *flagBuffer) len() int { return b.lru.Len() }

// values lists the flags from least to most recently evaluated.
func (b *flagBuffer) values() []FlagEvaluation {
	keys := b.lru.Keys()
	out := make([]FlagEvaluation, 0, len(keys))
	for _, k := range keys {
		if v, ok := b.lru.Peek(k); ok {
			out = append(out, FlagEvaluation{Flag: k, Result: v})
		}
	}
	return out
}

func (b *flagBuffer) clone() *flagBuffer {
	c := newFlagBuffer(b.capacity)
	c.merge(b)
	return c
}

// merge replays other's evaluations in order, so its entries end up newest.
func (b *flagBuffer) merge(other *flagBuffer) {
	for _, v := range other.values() {
		b.set(v.Flag, v.Result)
	}
}
