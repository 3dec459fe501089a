// Package eventbus is Sentinel's internal event/notification channel.
// It carries the "__sentinel__:*" topics emitted by internal/sentinel
// (spec.md §7) out to any client that has SUBSCRIBEd on the command
// server, and also carries whatever clients PUBLISH to this Sentinel.
// Hello gossip between peer Sentinels does not pass through it: that
// travels over the monitored instances' own pub/sub (see Bus).
// It has no dependency on any particular store or wire format.
package eventbus

import (
	"regexp"
	"strings"
	"sync"
)

// Subscriber is a consumer registered against one or more channels or
// patterns; Channels is the delivery queue the bus writes into.
type Subscriber struct {
	ID       string
	Channels chan *Message
}

// Message is one published event as delivered to a Subscriber.
type Message struct {
	Type    string // "message", "pmessage", "subscribe", "unsubscribe", "psubscribe", "punsubscribe"
	Channel string
	Pattern string // set for pmessage
	Payload string
	Count   int // active subscription count, for subscribe/unsubscribe acks
}

// trieNode is one node of the pattern prefix index.
type trieNode struct {
	children map[byte]*trieNode
	patterns []string
}

// patternIndex narrows pattern matching on Publish to the patterns
// whose literal prefix (the part before the first wildcard) is
// actually a prefix of the channel being published to, instead of
// testing every registered pattern's regex on every publish.
type patternIndex struct {
	root *trieNode
}

func newPatternIndex() *patternIndex {
	return &patternIndex{root: &trieNode{children: make(map[byte]*trieNode)}}
}

func literalPrefix(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' || pattern[i] == '?' {
			return pattern[:i]
		}
	}
	return pattern
}

func (t *patternIndex) Insert(pattern string) {
	node := t.root
	for i := 0; i < len(literalPrefix(pattern)); i++ {
		c := pattern[i]
		if node.children[c] == nil {
			node.children[c] = &trieNode{children: make(map[byte]*trieNode)}
		}
		node = node.children[c]
	}
	node.patterns = append(node.patterns, pattern)
}

func (t *patternIndex) Remove(pattern string) {
	node := t.root
	for i := 0; i < len(literalPrefix(pattern)); i++ {
		c := pattern[i]
		if node.children[c] == nil {
			return
		}
		node = node.children[c]
	}
	for i, p := range node.patterns {
		if p == pattern {
			node.patterns = append(node.patterns[:i], node.patterns[i+1:]...)
			return
		}
	}
}

// CandidatesFor returns every pattern that could possibly match
// channel: those rooted at the wildcard-from-the-start ("*foo") plus
// those whose literal prefix the channel name actually walks.
func (t *patternIndex) CandidatesFor(channel string) []string {
	result := append([]string(nil), t.root.patterns...)
	node := t.root
	for i := 0; i < len(channel); i++ {
		next := node.children[channel[i]]
		if next == nil {
			break
		}
		node = next
		result = append(result, node.patterns...)
	}
	return result
}

// Bus is an in-process publish/subscribe registry. One Bus instance
// backs a Sentinel's "__sentinel__:*" event stream; the Hello gossip
// channel rides the same mechanism on the monitored master/replica
// side and is consumed there through peerConn's own SUBSCRIBE, not
// through this type.
type Bus struct {
	channels map[string]map[string]*Subscriber
	patterns map[string]map[string]*Subscriber

	subscriberChannels map[string]map[string]bool
	subscriberPatterns map[string]map[string]bool
	subscribers        map[string]*Subscriber

	index            *patternIndex
	compiledPatterns map[string]*regexp.Regexp

	mu sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{
		channels:           make(map[string]map[string]*Subscriber),
		patterns:           make(map[string]map[string]*Subscriber),
		subscriberChannels: make(map[string]map[string]bool),
		subscriberPatterns: make(map[string]map[string]bool),
		subscribers:        make(map[string]*Subscriber),
		index:              newPatternIndex(),
		compiledPatterns:   make(map[string]*regexp.Regexp),
	}
}

// Subscribe registers sub (or reuses the existing registration for
// subscriberID) against the given channels, returning the channels
// actually subscribed.
func (b *Bus) Subscribe(subscriberID string, sub *Subscriber, channels ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subscribers[subscriberID]; ok {
		sub = existing
	} else {
		b.subscribers[subscriberID] = sub
	}
	if b.subscriberChannels[subscriberID] == nil {
		b.subscriberChannels[subscriberID] = make(map[string]bool)
	}

	subscribed := make([]string, 0, len(channels))
	for _, ch := range channels {
		if b.channels[ch] == nil {
			b.channels[ch] = make(map[string]*Subscriber)
		}
		b.channels[ch][subscriberID] = sub
		b.subscriberChannels[subscriberID][ch] = true
		subscribed = append(subscribed, ch)
	}
	return subscribed
}

// Unsubscribe removes subscriberID from the given channels, or from
// every channel it holds if none are given.
func (b *Bus) Unsubscribe(subscriberID string, channels ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(channels) == 0 {
		for ch := range b.subscriberChannels[subscriberID] {
			channels = append(channels, ch)
		}
	}
	unsubscribed := make([]string, 0, len(channels))
	for _, ch := range channels {
		if subs, ok := b.channels[ch]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.channels, ch)
			}
		}
		delete(b.subscriberChannels[subscriberID], ch)
		unsubscribed = append(unsubscribed, ch)
	}
	return unsubscribed
}

// PSubscribe registers sub against the given glob patterns.
func (b *Bus) PSubscribe(subscriberID string, sub *Subscriber, patterns ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subscribers[subscriberID]; ok {
		sub = existing
	} else {
		b.subscribers[subscriberID] = sub
	}
	if b.subscriberPatterns[subscriberID] == nil {
		b.subscriberPatterns[subscriberID] = make(map[string]bool)
	}

	subscribed := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		if b.patterns[pat] == nil {
			b.patterns[pat] = make(map[string]*Subscriber)
			b.index.Insert(pat)
			b.compiledPatterns[pat] = compileGlob(pat)
		}
		b.patterns[pat][subscriberID] = sub
		b.subscriberPatterns[subscriberID][pat] = true
		subscribed = append(subscribed, pat)
	}
	return subscribed
}

// PUnsubscribe removes subscriberID from the given patterns, or from
// every pattern it holds if none are given.
func (b *Bus) PUnsubscribe(subscriberID string, patterns ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(patterns) == 0 {
		for pat := range b.subscriberPatterns[subscriberID] {
			patterns = append(patterns, pat)
		}
	}
	unsubscribed := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		if subs, ok := b.patterns[pat]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.patterns, pat)
				b.index.Remove(pat)
				delete(b.compiledPatterns, pat)
			}
		}
		delete(b.subscriberPatterns[subscriberID], pat)
		unsubscribed = append(unsubscribed, pat)
	}
	return unsubscribed
}

// Publish delivers payload to every channel and pattern subscriber of
// channel, dropping it for any subscriber whose queue is full rather
// than blocking the publisher (the actor goroutine, in Sentinel's
// case, which must never stall on a slow client). It returns the
// number of subscribers the message was actually enqueued for.
func (b *Bus) Publish(channel, payload string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	if subs, ok := b.channels[channel]; ok {
		msg := &Message{Type: "message", Channel: channel, Payload: payload}
		for _, sub := range subs {
			select {
			case sub.Channels <- msg:
				count++
			default:
			}
		}
	}

	for _, pat := range b.index.CandidatesFor(channel) {
		subs, ok := b.patterns[pat]
		if !ok {
			continue
		}
		re := b.compiledPatterns[pat]
		if re == nil || !re.MatchString(channel) {
			continue
		}
		msg := &Message{Type: "pmessage", Pattern: pat, Channel: channel, Payload: payload}
		for _, sub := range subs {
			select {
			case sub.Channels <- msg:
				count++
			default:
			}
		}
	}
	return count
}

// NumSub reports the subscriber count of each named channel.
func (b *Bus) NumSub(channels ...string) map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make(map[string]int, len(channels))
	for _, ch := range channels {
		result[ch] = len(b.channels[ch])
	}
	return result
}

// NumPat reports the number of distinct patterns currently subscribed.
func (b *Bus) NumPat() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.patterns)
}

// Channels lists active channels, optionally filtered by a glob.
func (b *Bus) Channels(pattern string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		if pattern == "" || matchGlob(pattern, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// GetSubscriberCount returns the combined channel+pattern subscription
// count for subscriberID.
func (b *Bus) GetSubscriberCount(subscriberID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriberChannels[subscriberID]) + len(b.subscriberPatterns[subscriberID])
}

// RemoveSubscriber tears down every channel and pattern registration
// for subscriberID, used on client disconnect.
func (b *Bus) RemoveSubscriber(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscriberChannels[subscriberID] {
		if subs, ok := b.channels[ch]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.channels, ch)
			}
		}
	}
	delete(b.subscriberChannels, subscriberID)

	for pat := range b.subscriberPatterns[subscriberID] {
		if subs, ok := b.patterns[pat]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.patterns, pat)
				b.index.Remove(pat)
				delete(b.compiledPatterns, pat)
			}
		}
	}
	delete(b.subscriberPatterns, subscriberID)
	delete(b.subscribers, subscriberID)
}

func (b *Bus) GetSubscriber(subscriberID string) *Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers[subscriberID]
}

func compileGlob(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	escaped = strings.ReplaceAll(escaped, `\?`, `.`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}

func matchGlob(pattern, channel string) bool {
	re := compileGlob(pattern)
	return re != nil && re.MatchString(channel)
}
