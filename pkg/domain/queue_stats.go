package domain

type StoreStats struct {
	Total      int64 `json:"total"`
	Accepted   int64 `json:"accepted"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

type QueueStats struct {
	StoreStats
	Capacity       int  `json:"capacity"`
	Depth          int  `json:"depth"`
	AvailableSlots int  `json:"available_slots"`
	Workers        int  `json:"workers"`
	ShuttingDown   bool `json:"shutting_down"`
}
