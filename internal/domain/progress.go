package domain

// Progress is a snapshot of a running pipeline.
type Progress struct {
	RunID           string `json:"run_id"`
	Source          string `json:"source"`
	YearMin         int    `json:"year_min"`
	YearMax         int    `json:"year_max"`
	CurrentMonth    int    `json:"current_month,omitempty"`
	MonthsCompleted int    `json:"months_completed"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
}
