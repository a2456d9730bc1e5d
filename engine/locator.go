package engine

// Locator adapts a ControlBlock to trinitylog.Locator. ControlBlock
// itself cannot implement that interface directly since MainPID,
// WatchdogPID, and InitPID are already shared-memory struct fields, not
// methods.
type Locator struct {
	CB *ControlBlock
}

func (l Locator) ChildIndexForPID(pid int) (int, bool) { return l.CB.ChildIndexForPID(pid) }
func (l Locator) MainPID() int                         { return l.CB.MainPIDOf() }
func (l Locator) WatchdogPID() int                     { return l.CB.WatchdogPIDOf() }
func (l Locator) InitPID() int                         { return l.CB.InitPIDOf() }
