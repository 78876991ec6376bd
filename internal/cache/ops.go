package cache

// Read-path operation names used as key prefixes
const (
	OpLatestTime   = "latest_time"
	OpLatest       = "latest"
	OpRuns         = "runs"
	OpBuildings    = "buildings"
	OpHistoryTimes = "history_times"
	OpHistory      = "history"
	OpRoomHistory  = "room_history"
)

// ReadPathOps lists every operation whose entries go stale when a batch lands
var ReadPathOps = []string{
	OpLatestTime,
	OpLatest,
	OpRuns,
	OpBuildings,
	OpHistoryTimes,
	OpHistory,
	OpRoomHistory,
}

// OpPrefix returns the key prefix matching every key of op and no other operation
func OpPrefix(op string) string {
	return op + "|"
}
