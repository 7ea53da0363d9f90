package launch

import (
	"fmt"
	"strings"
)

// Mode selects the process creation strategy.
type Mode uint32

const (
	// ModeDefault resolves to HelperDelegated.
	ModeDefault Mode = iota
	DirectFork
	SpeculativeFork
	HelperDelegated
)

var modeNames = map[Mode]string{
	DirectFork:      "fork",
	SpeculativeFork: "vfork",
	HelperDelegated: "helper",
}

// String returns the name accepted by ParseMode.
func (m Mode) String() string {
	if m == ModeDefault {
		return "default"
	}

	if name, ok := modeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("Mode(%d)", uint32(m))
}

// resolve maps ModeDefault to the concrete default strategy.
func (m Mode) resolve() Mode {
	if m == ModeDefault {
		return HelperDelegated
	}

	return m
}

func (m Mode) valid() bool {
	_, ok := modeNames[m.resolve()]
	return ok
}

// ParseMode accepts the strategy names printed by String plus a few
// aliases ("direct", "speculative", "spawn").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ModeDefault, nil
	case "fork", "direct":
		return DirectFork, nil
	case "vfork", "speculative":
		return SpeculativeFork, nil
	case "helper", "spawn", "posix_spawn":
		return HelperDelegated, nil
	default:
		return ModeDefault, fmt.Errorf("unknown launch mode %q (want fork, vfork or helper)", s)
	}
}

// ModeNames lists the canonical strategy names in a stable order.
func ModeNames() []string {
	return []string{DirectFork.String(), SpeculativeFork.String(), HelperDelegated.String()}
}
