package natsbus

import "fmt"

// Subjects are swarm.<run_id>.<kind>.

func TopicRun(runID string) string {
	return fmt.Sprintf("swarm.%s.run", runID)
}

func TopicRound(runID string) string {
	return fmt.Sprintf("swarm.%s.round", runID)
}

func TopicDone(runID string) string {
	return fmt.Sprintf("swarm.%s.done", runID)
}

// TopicAllRuns matches every subject of every run.
const TopicAllRuns = "swarm.>"
