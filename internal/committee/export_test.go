package committee

// HeldLocks reports how many meeting lock entries are live.
func (o *Orchestrator) HeldLocks() int { return o.locks.Len() }
