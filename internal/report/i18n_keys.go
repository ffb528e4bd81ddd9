package report

const (
	keyReplayTitle      = "report.replay.title"
	keyReplaySuccess    = "report.replay.success"
	keyReplayFailed     = "report.replay.failed"
	keyReplayOriginal   = "report.replay.original"
	keyReplayReplayed   = "report.replay.replayed"
	keyReplayDiffs      = "report.replay.differences"
	keyReplayNoDiffs    = "report.replay.no_differences"
	keyBatchTitle       = "report.batch.title"
	keyBatchTotal       = "report.batch.total"
	keyBatchSucceeded   = "report.batch.succeeded"
	keyBatchFailed      = "report.batch.failed"
	keyBatchAvgDuration = "report.batch.avg_duration"
	keyBatchWallTime    = "report.batch.wall_time"
	keyLoadTitle        = "report.load.title"
	keyLoadTimedOut     = "report.load.timed_out"
	keyLoadCompleted    = "report.load.completed"
	keyLoadAchievedRPS  = "report.load.achieved_rps"
	keyLoadThroughput   = "report.load.throughput"
	keyLoadErrorRate    = "report.load.error_rate"
	keyLoadLatencyMin   = "report.load.latency_min"
	keyLoadLatencyAvg   = "report.load.latency_avg"
	keyLoadLatencyMax   = "report.load.latency_max"
	keyLoadLatencyP50   = "report.load.latency_p50"
	keyLoadLatencyP95   = "report.load.latency_p95"
	keyLoadLatencyP99   = "report.load.latency_p99"
	keyCommonSize       = "report.common.size"
	keyCommonDuration   = "report.common.duration"
	keyCommonStatus     = "report.common.status"
)
