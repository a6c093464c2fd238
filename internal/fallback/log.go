package fallback

import (
	"sort"
	"sync"
	"time"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/models"
)

// DefaultLogSize bounds the attempt log.
const DefaultLogSize = 1000

const topReasonLimit = 5

// Attempt is one logged fallback decision. Only taken decisions are later
// resolved with the outcome on the target channel.
type Attempt struct {
	ID             string            `json:"id"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	Origin         models.Channel    `json:"origin"`
	Target         models.Channel    `json:"target,omitempty"`
	Code           classify.Code     `json:"code"`
	Category       classify.Category `json:"category"`
	Message        string            `json:"message,omitempty"`
	ShouldFallback bool              `json:"shouldFallback"`
	Reason         string            `json:"reason"`
	Delay          time.Duration     `json:"delay"`
	Resolved       bool              `json:"resolved"`
	Success        bool              `json:"success"`
	MessageID      string            `json:"messageId,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ReasonCount is a failure code with the number of decisions it triggered.
type ReasonCount struct {
	Code  classify.Code `json:"code"`
	Count int           `json:"count"`
}

// Stats aggregates the log over a time range.
type Stats struct {
	TotalDecisions int           `json:"totalDecisions"`
	FallbacksTaken int           `json:"fallbacksTaken"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	SuccessRate    float64       `json:"successRate"`
	TopReasons     []ReasonCount `json:"topReasons"`
}

// Log is a bounded ring of attempts; the oldest entry is evicted first.
type Log struct {
	mu      sync.Mutex
	entries []Attempt
	start   int
	size    int
}

// NewLog creates a log holding at most capacity attempts.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogSize
	}
	return &Log{entries: make([]Attempt, capacity)}
}

// Append stores an attempt, evicting the oldest when full.
func (l *Log) Append(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := len(l.entries)
	if l.size < capacity {
		l.entries[(l.start+l.size)%capacity] = a
		l.size++
		return
	}
	l.entries[l.start] = a
	l.start = (l.start + 1) % capacity
}

// Resolve records the outcome of a taken fallback. It reports false when the
// attempt is unknown or already evicted.
func (l *Log) Resolve(id string, success bool, messageID string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := l.size - 1; i >= 0; i-- {
		e := &l.entries[(l.start+i)%len(l.entries)]
		if e.ID != id {
			continue
		}
		e.Resolved = true
		e.Success = success
		if success {
			e.MessageID = messageID
		}
		return true
	}
	return false
}

// Snapshot returns the attempts oldest first.
func (l *Log) Snapshot() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Attempt, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(l.start+i)%len(l.entries)])
	}
	return out
}

// Len reports the number of retained attempts.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Stats aggregates attempts with from <= timestamp < to. Zero bounds are open.
func (l *Log) Stats(from, to time.Time) Stats {
	var st Stats
	reasons := make(map[classify.Code]int)
	for _, a := range l.Snapshot() {
		if !from.IsZero() && a.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !a.Timestamp.Before(to) {
			continue
		}
		st.TotalDecisions++
		reasons[a.Code]++
		if !a.ShouldFallback {
			continue
		}
		st.FallbacksTaken++
		if !a.Resolved {
			continue
		}
		if a.Success {
			st.Successful++
		} else {
			st.Failed++
		}
	}
	if resolved := st.Successful + st.Failed; resolved > 0 {
		st.SuccessRate = float64(st.Successful) / float64(resolved) * 100
	}

	st.TopReasons = make([]ReasonCount, 0, len(reasons))
	for code, n := range reasons {
		st.TopReasons = append(st.TopReasons, ReasonCount{Code: code, Count: n})
	}
	sort.Slice(st.TopReasons, func(i, j int) bool {
		if st.TopReasons[i].Count != st.TopReasons[j].Count {
			return st.TopReasons[i].Count > st.TopReasons[j].Count
		}
		return st.TopReasons[i].Code < st.TopReasons[j].Code
	})
	if len(st.TopReasons) > topReasonLimit {
		st.TopReasons = st.TopReasons[:topReasonLimit]
	}
	return st
}

// Prune evicts attempts older than cutoff and returns how many were removed.
// Attempts are appended in time order, so eviction stops at the first newer one.
func (l *Log) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for l.size > 0 {
		e := &l.entries[l.start]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		*e = Attempt{}
		l.start = (l.start + 1) % len(l.entries)
		l.size--
		removed++
	}
	return removed
}
