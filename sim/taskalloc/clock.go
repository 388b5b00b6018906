package taskalloc

// Clock supplies the current time in seconds. Tasks read it once per cycle,
// at the start of the cycle; Period is the length of that cycle.
type Clock interface {
	Now() float64
	Period() float64
}

// TickClock is a simulated clock advanced by its owner once per control tick.
type TickClock struct {
	ticks  int64
	period float64 // seconds per tick
}

// NewTickClock returns a clock at tick 0 with the given tick length in seconds.
func NewTickClock(period float64) *TickClock {
	return &TickClock{period: period}
}

// Tick advances the clock by one tick.
func (c *TickClock) Tick() { c.ticks++ }

// Ticks returns the number of ticks elapsed.
func (c *TickClock) Ticks() int64 { return c.ticks }

// Now returns the elapsed simulated time in seconds.
func (c *TickClock) Now() float64 { return float64(c.ticks) * c.period }

// Period returns the length of one tick in seconds.
func (c *TickClock) Period() float64 { return c.period }
