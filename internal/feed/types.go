// Package feed defines core types shared across the ingestion subsystems.
package feed

import (
	"strings"
	"time"
)

// Topic is the closed set of content categories a feed can be tagged with.
type Topic string

// Topic values assignable to a feed.
const (
	TopicMain       Topic = "main"
	TopicScience    Topic = "science"
	TopicLaw        Topic = "law"
	TopicFeatures   Topic = "features"
	TopicBusiness   Topic = "business"
	TopicCars       Topic = "cars"
	TopicTech       Topic = "tech"
	TopicAI         Topic = "ai"
	TopicEnergy     Topic = "energy"
	TopicFinance    Topic = "finance"
	TopicEconomy    Topic = "economy"
	TopicDisclosure Topic = "disclosure"
	TopicUnknown    Topic = "unknown"
)

var knownTopics = map[Topic]struct{}{
	TopicMain: {}, TopicScience: {}, TopicLaw: {}, TopicFeatures: {},
	TopicBusiness: {}, TopicCars: {}, TopicTech: {}, TopicAI: {},
	TopicEnergy: {}, TopicFinance: {}, TopicEconomy: {}, TopicDisclosure: {},
	TopicUnknown: {},
}

// ParseTopic maps a raw category string onto the closed Topic set.
// Unrecognized values fall back to TopicUnknown.
func ParseTopic(raw string) Topic {
	t := Topic(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownTopics[t]; ok {
		return t
	}
	return TopicUnknown
}

// Source is one configured feed: where to fetch, which adapter parses it,
// and how often it is due.
type Source struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Topic           Topic      `json:"topic"`
	URL             string     `json:"url"`
	IntervalSeconds int        `json:"interval_seconds"`
	Enabled         bool       `json:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsDue reports whether the feed should run at the given instant.
// A disabled feed is never due; a feed that has never run is always due.
func (s Source) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastRunAt == nil {
		return true
	}
	return !now.Before(s.LastRunAt.Add(time.Duration(s.IntervalSeconds) * time.Second))
}

// Record is the canonical item shape every adapter converges to.
type Record struct {
	Source      string    `json:"source"`
	Topic       Topic     `json:"topic"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body,omitempty"`
	PublishedAt string    `json:"published_at"`
	Author      string    `json:"author,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Valid reports whether the record carries the required fields.
// Records failing this are dropped before dedup, never stored.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.Title) != "" && strings.TrimSpace(r.Link) != ""
}

// RunStatus is the terminal state of one orchestrated feed run.
type RunStatus string

// Run outcomes reported per feed run.
const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunReport carries the per-run counters used for observability.
// The counters are only meaningful within a single run.
type RunReport struct {
	FeedID    string
	Source    string
	Status    RunStatus
	TotalSeen int
	TotalNew  int
	Dropped   int
	Degraded  bool
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}
