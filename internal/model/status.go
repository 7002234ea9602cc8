package model

// Status 消息投递状态，只能单向推进 sending -> delivered -> read
type Status string

const (
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.rank() > 0 }

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Re-applying the same status is not an advance.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.rank() > s.rank()
}

// AtLeast reports whether s has reached other.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}
