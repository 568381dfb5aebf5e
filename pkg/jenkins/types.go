package jenkins

// Job is an entry of the top-level job list
type Job struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Color string `json:"color"`
}

// Build is a raw build entry as Jenkins reports it. Result is nil while the
// build is running; durations are milliseconds and timestamps epoch milliseconds.
type Build struct {
	Number            int64    `json:"number"`
	URL               string   `json:"url"`
	Timestamp         int64    `json:"timestamp"`
	Result            *string  `json:"result"`
	Duration          int64    `json:"duration"`
	EstimatedDuration int64    `json:"estimatedDuration"`
	Building          bool     `json:"building"`
	Actions           []Action `json:"actions"`
}

// Action carries build causes; most actions are empty objects
type Action struct {
	Causes []Cause `json:"causes"`
}

// Cause describes what triggered a build
type Cause struct {
	ShortDescription string `json:"shortDescription"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
}

// TriggeredBy returns the first non-empty user name among the build causes
func (b *Build) TriggeredBy() string {
	for _, action := range b.Actions {
		for _, cause := range action.Causes {
			if cause.UserName != "" {
				return cause.UserName
			}
		}
	}
	return ""
}

type jobList struct {
	Jobs []Job `json:"jobs"`
}

type buildList struct {
	Builds []Build `json:"builds"`
}
