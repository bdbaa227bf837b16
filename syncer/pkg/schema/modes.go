package schema

// Mode is the value written to the sync_mode system column.
type Mode string

const (
	ModeFull        Mode = "FULL"
	ModeIncremental Mode = "INCREMENTAL"
)
