package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func AnalysisStateKey(analysisID uuid.UUID) string {
	return fmt.Sprintf("analysis:%s", analysisID)
}

func PRStatusKey(prNumber int) string {
	return fmt.Sprintf("pr:%d", prNumber)
}

func LearningStatsKey() string {
	return "stats:learning"
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func ScanResultKey(queryHash string) string {
	return fmt.Sprintf("tracker:scan:%s", queryHash)
}
