// Package domain defines the vocabulary shared by every layer of the runtime:
// the message envelope, scheduling directives and states, channel identity,
// the task and observer contracts, and sentinel errors.
// Domain types carry no infrastructure dependency.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelID identifies one channel endpoint: the owning task's name and the
// endpoint's local index on that task. It is immutable once assigned and is
// comparable, so it can key maps used for dependency registration.
type ChannelID struct {
	Task  string `json:"task"`
	Index int    `json:"index"`
}

// NewChannelID returns the identity of channel index on the named task.
func NewChannelID(task string, index int) ChannelID {
	return ChannelID{Task: task, Index: index}
}

// String renders the id as "task[index]".
func (c ChannelID) String() string {
	return fmt.Sprintf("%s[%d]", c.Task, c.Index)
}

// IsZero reports whether the id was never assigned.
func (c ChannelID) IsZero() bool {
	return c.Task == "" && c.Index == 0
}

// ParseChannelID is the inverse of String.
func ParseChannelID(s string) (ChannelID, error) {
	open := strings.LastIndexByte(s, '[')
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return ChannelID{}, fmt.Errorf("channel id %q: want task[index]", s)
	}
	idx, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || idx < 0 {
		return ChannelID{}, fmt.Errorf("channel id %q: bad index", s)
	}
	return ChannelID{Task: s[:open], Index: idx}, nil
}
