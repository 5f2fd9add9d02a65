package types

import "time"

// --------------------------------------------
// Analytics snapshot returned by /analytics
// --------------------------------------------
type AnalyticsAggregate struct {
	TotalReports int                `json:"total_reports"`
	ByCategory   map[Category]int   `json:"by_category"`
	ByPriority   map[Priority]int   `json:"by_priority"`
	Buckets      []BucketCount      `json:"buckets"`
	Notify       NotificationTotals `json:"notifications"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// --------------------------------------------
// Counter for one (bucket, category, priority)
// --------------------------------------------
type BucketCount struct {
	Bucket   time.Time `json:"bucket"`
	Category Category  `json:"category"`
	Priority Priority  `json:"priority"`
	Count    int       `json:"count"`
}

// --------------------------------------------
// Delivery outcome totals and time-to-notify
// --------------------------------------------
type NotificationTotals struct {
	Delivered           int     `json:"delivered"`
	Failed              int     `json:"failed"`
	Pending             int     `json:"pending"`
	TotalTimeToNotifyMs int64   `json:"total_time_to_notify_ms"`
	MeanTimeToNotifyMs  float64 `json:"mean_time_to_notify_ms"`
	MaxTimeToNotifyMs   int64   `json:"max_time_to_notify_ms"`
}
