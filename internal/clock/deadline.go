package clock

// Deadline is a recurring schedule on the whole-second stream. When it fires
// it advances by exactly one period, so a caller that falls behind drifts
// instead of firing a backlog of missed periods.
type Deadline struct {
	next   uint64
	period uint64
}

// NewDeadline returns a schedule first due at next.
func NewDeadline(next, period uint64) Deadline {
	return Deadline{next: next, period: period}
}

// Due reports whether now has reached the deadline and, if so, advances it.
func (d *Deadline) Due(now uint64) bool {
	if now < d.next {
		return false
	}
	d.next += d.period
	return true
}

// Next returns the second at which the deadline fires next.
func (d *Deadline) Next() uint64 {
	return d.next
}

// Period returns the advancement step.
func (d *Deadline) Period() uint64 {
	return d.period
}

// SetPeriod changes the step used from the next advancement on. The pending
// deadline is not moved.
func (d *Deadline) SetPeriod(p uint64) {
	d.period = p
}

// Reset force-sets the next deadline.
func (d *Deadline) Reset(next uint64) {
	d.next = next
}

// Resync moves the deadline up to at, never backwards.
func (d *Deadline) Resync(at uint64) {
	if at > d.next {
		d.next = at
	}
}
