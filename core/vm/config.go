package vm

import (
	"fmt"
	"strings"

	"github.com/eth2030/evmexec/core/types"
)

// Fork identifies the rule set the interpreter runs under.
type Fork int

const (
	Cancun Fork = iota
	Prague
)

func (f Fork) String() string {
	switch f {
	case Cancun:
		return "cancun"
	case Prague:
		return "prague"
	default:
		return fmt.Sprintf("fork(%d)", int(f))
	}
}

// ParseFork maps a case-insensitive fork name to a Fork.
func ParseFork(name string) (Fork, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cancun":
		return Cancun, nil
	case "prague", "":
		return Prague, nil
	}
	return 0, fmt.Errorf("unknown fork %q", name)
}

// HardforkConfig is the immutable chain configuration handed to the
// simulator. Modifying methods return a copy.
type HardforkConfig struct {
	ChainID uint64
	Fork    Fork

	// EnforceGasSentry enables the EIP-1706 check on SSTORE.
	EnforceGasSentry bool
	MaxCallDepth     int

	providers []PrecompileProvider
}

// DefaultHardforkConfig returns a Prague configuration for chainID with the
// gas sentry enforced and no precompile providers.
func DefaultHardforkConfig(chainID uint64) HardforkConfig {
	return HardforkConfig{
		ChainID:          chainID,
		Fork:             Prague,
		EnforceGasSentry: true,
		MaxCallDepth:     MaxCallDepth,
	}
}

// WithProvider returns a copy of c with p appended to the provider list.
// Providers are consulted in registration order before the native set.
func (c HardforkConfig) WithProvider(p PrecompileProvider) HardforkConfig {
	providers := make([]PrecompileProvider, len(c.providers), len(c.providers)+1)
	copy(providers, c.providers)
	c.providers = append(providers, p)
	return c
}

// WithFork returns a copy of c running under fork.
func (c HardforkConfig) WithFork(fork Fork) HardforkConfig {
	c.Fork = fork
	return c
}

// Providers returns the registered precompile providers.
func (c HardforkConfig) Providers() []PrecompileProvider {
	return c.providers
}

// IsPrague reports whether EIP-7702 delegation and the Prague precompile
// range are active.
func (c HardforkConfig) IsPrague() bool { return c.Fork >= Prague }

// ActivePrecompiles returns the addresses treated as precompiles by the
// fork, used to pre-warm the access list. This includes provider-served
// ranges even when no provider is registered.
func (c HardforkConfig) ActivePrecompiles() []types.Address {
	last := byte(0x0a)
	if c.IsPrague() {
		last = 0x11
	}
	addrs := make([]types.Address, 0, last)
	for i := byte(1); i <= last; i++ {
		addrs = append(addrs, types.BytesToAddress([]byte{i}))
	}
	return addrs
}
