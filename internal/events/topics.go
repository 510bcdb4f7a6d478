package events

// Topic constants for events emitted by the service.
const (
	TopicActionCompleted    = "action.completed"
	TopicActionFailed       = "action.failed"
	TopicSyncProgress       = "ercom.sync.progress"
	TopicSyncCompleted      = "ercom.sync.completed"
	TopicDiscountRecomputed = "discount.recomputed"
	TopicFileProcessed      = "file.processed"
)

// DefaultTopics returns the topics delivered to webhook subscribers.
// Progress events stay in-process.
func DefaultTopics() []string {
	return []string{
		TopicActionCompleted,
		TopicActionFailed,
		TopicSyncCompleted,
		TopicDiscountRecomputed,
		TopicFileProcessed,
	}
}

// Progress is the payload of TopicSyncProgress.
type Progress struct {
	Title   string  `json:"title"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// NewProgress computes Percent as done*100/total.
func NewProgress(title string, done, total int) Progress {
	p := Progress{Title: title, Done: done, Total: total}
	if total > 0 {
		p.Percent = float64(done) * 100 / float64(total)
	}
	return p
}
