package status

type Status = int32

const (
	Pending Status = iota
	InProgress
	Paused
	Completed
	Failed
	Cancelled
)

// IsTerminal reports whether no further transition can occur from s.
func IsTerminal(s Status) bool {
	return s == Completed || s == Failed || s == Cancelled
}

func Name(s Status) string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
