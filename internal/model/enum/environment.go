package enum

import "strings"

// Environment selects the venue endpoint family.
type Environment uint8

const (
	_environment_beg Environment = iota
	EnvironmentMainnet
	EnvironmentTestnet
	EnvironmentDemo
	_environment_end
)

func (e Environment) IsAvailable() bool {
	return e > _environment_beg && e < _environment_end
}

func (e Environment) String() string {
	switch e {
	case EnvironmentMainnet:
		return "Mainnet"
	case EnvironmentTestnet:
		return "Testnet"
	case EnvironmentDemo:
		return "Demo"
	default:
		return "Unknown"
	}
}

// ParseEnvironment is case-insensitive.
func ParseEnvironment(s string) (Environment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "live", "":
		return EnvironmentMainnet, true
	case "testnet":
		return EnvironmentTestnet, true
	case "demo":
		return EnvironmentDemo, true
	default:
		return _environment_beg, false
	}
}
