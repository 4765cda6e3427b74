package models

import (
	"time"
)

type StatsPeriod string

const (
	WeekPeriod StatsPeriod = "week"
)

// Count is a ranked (key, occurrences) pair.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// DayCount is the number of messages on one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// AggregateStats is a snapshot of message aggregates for one chat.
type AggregateStats struct {
	ChatID         int64       `json:"chat_id"`
	Period         StatsPeriod `json:"period"`
	ComputedAt     time.Time   `json:"timestamp"`
	MessageCount   int         `json:"message_count"`
	UserCount      int         `json:"user_count"`
	AvgLength      float64     `json:"avg_length"`
	EmojiCount     int         `json:"emoji_count"`
	TopEmojis      []Count     `json:"top_emojis"`
	TopWords       []Count     `json:"top_words"`
	MostActiveHour int         `json:"most_active_hour"`
	MostActiveDay  string      `json:"most_active_day"`
	ActivityTrend  []DayCount  `json:"activity_trend"`
}

// ThreadStats describes one thread: its size, who took part and what it
// was tagged with.
type ThreadStats struct {
	Thread       *Thread       `json:"thread"`
	MessageCount int           `json:"message_count"`
	UserCount    int           `json:"user_count"`
	Duration     time.Duration `json:"duration"`
	TopTags      []Count       `json:"top_tags"`
}

// DailySummary aggregates the last day across every enabled chat.
type DailySummary struct {
	Since        time.Time `json:"since"`
	Messages     int       `json:"messages"`
	Responded    int       `json:"responded"`
	ResponseRate float64   `json:"response_rate"`
	ActiveChats  int       `json:"active_chats"`
	TotalChats   int       `json:"total_chats"`
}
