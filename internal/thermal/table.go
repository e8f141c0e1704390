package thermal

// Table is a sensor kind's ordered condition list: the first satisfied
// condition's level wins. A well-formed table ends with an
// Always condition so every (value, presence) pair resolves to a level.
type Table struct {
	Conditions []*Condition
}

// Level walks the conditions in order and returns the first satisfied
// condition's level. Evaluation stops at the winner: conditions below it
// are not re-tested, so their hysteresis edges stay frozen at whatever
// state they held when they were last reached.
func (t *Table) Level(v float64, present bool) AlertLevel {
	for _, c := range t.Conditions {
		if c.evaluate(v, present) {
			return c.Level
		}
	}
	return Critical
}

func cond(op Op, on, hold float64, level AlertLevel) *Condition {
	return &Condition{Compare: op, On: on, Hold: hold, Level: level}
}

func always(level AlertLevel) *Condition { return cond(Always, 0, 0, level) }

// ChassisTable builds the chassis sensor's threshold table.
func ChassisTable() *Table {
	return &Table{Conditions: []*Condition{
		cond(GT, 100, 0, Critical),
		cond(GT, 90, 0, Danger),
		cond(GT, 80, 20, Hot),
		cond(GT, 40, 5, Warm),
		cond(GT, 30, 5, Normal),
		cond(GT, 1, 0, Cool),
		cond(LE, 1, 0, Under),
		always(Critical),
	}}
}

// CPUMaxTable builds the information-only CPU-max table: always Under.
func CPUMaxTable() *Table {
	return &Table{Conditions: []*Condition{always(Under)}}
}

// CPUDeltaTable builds the CPU-delta (degrees below critical) table: low
// values are the dangerous end, so the ordering runs Critical..Under by
// ascending threshold rather than descending.
func CPUDeltaTable() *Table {
	return &Table{Conditions: []*Condition{
		cond(LE, 1, 0, Critical),
		cond(LE, 11, 0, Danger),
		cond(LE, 16, 5, Hot),
		cond(LE, 21, 5, Warm),
		cond(LE, 30, 0, Normal),
		cond(LE, 97, 0, Cool),
		cond(GT, 97, 0, Under),
		always(Critical),
	}}
}

// DIMMTable builds the SPD/I2C DIMM temperature table.
func DIMMTable() *Table {
	return &Table{Conditions: []*Condition{
		cond(GT, 94, 0, Critical),
		cond(GT, 89, 0, Danger),
		cond(GT, 84, 10, Hot),
		cond(GT, 69, 5, Warm),
		cond(GT, 60, 0, Normal),
		cond(GT, 1, 0, Cool),
		cond(LE, 1, 0, Under),
		always(Under),
	}}
}

// HDDTable builds the HDD temperature table.
func HDDTable() *Table {
	return &Table{Conditions: []*Condition{
		cond(GT, 74, 0, Critical),
		cond(GT, 71, 0, Shutdown),
		cond(GT, 67, 0, Danger),
		cond(GT, 64, 15, Hot),
		cond(GT, 40, 2, Warm),
		cond(GT, 35, 0, Normal),
		cond(GT, 1, 0, Cool),
		cond(LE, 1, 0, Under),
		always(Under),
	}}
}

// Kind names the sensor specialization, replacing the source's inheritance
// hierarchy with an enum plus a shared evaluator.
type Kind int

const (
	KindChassis Kind = iota
	KindCPUMax
	KindCPUDelta
	KindDIMM
	KindHDD
)

func (k Kind) String() string {
	switch k {
	case KindChassis:
		return "chassis"
	case KindCPUMax:
		return "cpu-max"
	case KindCPUDelta:
		return "cpu-delta"
	case KindDIMM:
		return "dimm"
	case KindHDD:
		return "hdd"
	default:
		return "unknown"
	}
}

// SampleIntervalSeconds returns the sensor kind's monitor sampling period, in
// seconds.
func (k Kind) SampleIntervalSeconds() int {
	switch k {
	case KindChassis:
		return 30
	case KindCPUMax, KindCPUDelta:
		return 10
	case KindDIMM:
		return 30
	case KindHDD:
		return 600
	default:
		return 30
	}
}

// NewTable builds the threshold table for a sensor kind.
func NewTable(k Kind) *Table {
	switch k {
	case KindChassis:
		return ChassisTable()
	case KindCPUMax:
		return CPUMaxTable()
	case KindCPUDelta:
		return CPUDeltaTable()
	case KindDIMM:
		return DIMMTable()
	case KindHDD:
		return HDDTable()
	default:
		return &Table{Conditions: []*Condition{always(Under)}}
	}
}
