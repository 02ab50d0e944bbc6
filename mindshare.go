package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	TweetSignal = "signal"
	TweetNoise  = "noise"
)

const (
	noiseMinEngagement     = 5
	noiseViewFloor         = 1000
	noiseMinEngagementRate = 0.002
	noiseMinFollowers      = 50
)

var mindshareWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

const defaultMindshareWindow = "7d"

type TweetMetrics struct {
	TweetID         string
	ProjectID       string
	AuthorHandle    string
	AuthorFollowers int64
	Likes           int64
	Retweets        int64
	Replies         int64
	Quotes          int64
	Views           int64
	IsOfficial      bool
	CreatedAt       time.Time
}

// parseMindshareWindow maps the query value to a duration; empty selects 7d.
func parseMindshareWindow(raw string) (string, time.Duration, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		key = defaultMindshareWindow
	}
	d, ok := mindshareWindows[key]
	if !ok {
		return "", 0, fmt.Errorf("unknown window %q", raw)
	}
	return key, d, nil
}

func tweetEngagement(t TweetMetrics) int64 {
	return t.Likes + 2*t.Replies + 3*t.Retweets + 3*t.Quotes
}

func followerMultiplier(followers int64) float64 {
	if followers < 1 {
		followers = 1
	}
	m := 1 + math.Log10(float64(followers))/4
	return math.Max(1, math.Min(2, m))
}

func classifyTweet(t TweetMetrics) string {
	engagement := tweetEngagement(t)
	if engagement < noiseMinEngagement {
		return TweetNoise
	}
	if t.Views >= noiseViewFloor && float64(engagement)/float64(t.Views) < noiseMinEngagementRate {
		return TweetNoise
	}
	if t.AuthorFollowers < noiseMinFollowers && t.Replies == 0 {
		return TweetNoise
	}
	return TweetSignal
}

func tweetPoints(t TweetMetrics) float64 {
	if classifyTweet(t) == TweetNoise {
		return 0
	}
	return float64(tweetEngagement(t)) * followerMultiplier(t.AuthorFollowers)
}

// MindshareEntry is one ranked row: a creator handle or a project id.
type MindshareEntry struct {
	Rank         int     `json:"rank"`
	Key          string  `json:"key"`
	Name         string  `json:"name,omitempty"`
	Score        float64 `json:"score"`
	SignalTweets int     `json:"signalTweets"`
	NoiseTweets  int     `json:"noiseTweets"`
	Engagement   int64   `json:"engagement"`
	Views        int64   `json:"views"`
	Multiplier   float64 `json:"multiplier"`
	MindshareBps int     `json:"mindshareBps"`
	MindsharePct float64 `json:"mindsharePct"`
}

type mindshareAccumulator struct {
	order   []string
	entries map[string]*MindshareEntry
}

func newMindshareAccumulator() *mindshareAccumulator {
	return &mindshareAccumulator{entries: map[string]*MindshareEntry{}}
}

func (a *mindshareAccumulator) add(key string, t TweetMetrics) {
	entry, ok := a.entries[key]
	if !ok {
		entry = &MindshareEntry{Key: key, Multiplier: 1}
		a.entries[key] = entry
		a.order = append(a.order, key)
	}
	entry.Engagement += tweetEngagement(t)
	entry.Views += t.Views
	if classifyTweet(t) == TweetSignal {
		entry.SignalTweets++
		entry.Score += tweetPoints(t)
	} else {
		entry.NoiseTweets++
	}
}

// ranked applies multipliers, then sorts and fills mindshare shares.
func (a *mindshareAccumulator) ranked(multipliers map[string]float64) []MindshareEntry {
	out := make([]MindshareEntry, 0, len(a.order))
	var total float64
	for _, key := range a.order {
		entry := *a.entries[key]
		if m, ok := multipliers[key]; ok {
			entry.Multiplier = m
			entry.Score *= m
		}
		total += entry.Score
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SignalTweets != out[j].SignalTweets {
			return out[i].SignalTweets > out[j].SignalTweets
		}
		return out[i].Key < out[j].Key
	})
	for i := range out {
		out[i].Rank = i + 1
		if total > 0 {
			share := out[i].Score / total
			out[i].MindshareBps = int(math.Round(share * 10000))
			out[i].MindsharePct = roundTo(share*100, 2)
		}
		out[i].Score = roundTo(out[i].Score, 4)
	}
	return out
}

// scoreCreators ranks tweet authors. Official project tweets are left out. When
// allowed is non-nil only those handles are ranked.
func scoreCreators(tweets []TweetMetrics, multipliers map[string]float64, allowed map[string]bool) []MindshareEntry {
	acc := newMindshareAccumulator()
	for _, t := range tweets {
		if t.IsOfficial {
			continue
		}
		handle := normalizeHandle(t.AuthorHandle)
		if handle == "" || (allowed != nil && !allowed[handle]) {
			continue
		}
		acc.add(handle, t)
	}
	return acc.ranked(multipliers)
}

// scoreProjects ranks projects on all of their tweets, official ones included.
func scoreProjects(tweets []TweetMetrics, names map[string]string) []MindshareEntry {
	acc := newMindshareAccumulator()
	for id := range names {
		if _, ok := acc.entries[id]; !ok {
			acc.entries[id] = &MindshareEntry{Key: id, Multiplier: 1}
			acc.order = append(acc.order, id)
		}
	}
	sort.Strings(acc.order)
	for _, t := range tweets {
		acc.add(t.ProjectID, t)
	}
	out := acc.ranked(nil)
	for i := range out {
		out[i].Name = names[out[i].Key]
	}
	return out
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
