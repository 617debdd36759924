package entity

// DownloadState is the state of a single item download.
type DownloadState string

const (
	StateDownloading DownloadState = "downloading"
	StateCompleted   DownloadState = "completed"
	StateFailed      DownloadState = "failed"

	// StatePaused is reported by the data model but nothing transitions into it.
	StatePaused DownloadState = "paused"
)

func (s DownloadState) String() string {
	return string(s)
}

// IsFinished reports whether no more mutations are expected for the item.
func (s DownloadState) IsFinished() bool {
	return s == StateCompleted || s == StateFailed
}

type DownloadProgress struct {
	ItemID          string        `json:"itemId"`
	PercentComplete int           `json:"percentComplete"` // 0..100
	State           DownloadState `json:"state"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
}
