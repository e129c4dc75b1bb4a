package admission

import "fmt"

// DegradationLevel is the coarse, process-wide system-health state read by
// every admission decision. Levels are ordered; a higher level sheds more.
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
	LevelHalted
)

var levelNames = map[DegradationLevel]string{
	LevelNormal:   "normal",
	LevelDegraded: "degraded",
	LevelCritical: "critical",
	LevelHalted:   "halted",
}

func (l DegradationLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel parses a level name as used in configuration and the operator
// API.
func ParseLevel(s string) (DegradationLevel, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown degradation level %q", s)
}
