// Package idgen produces connection identifiers. Uniqueness among live
// connections is enforced by the registry; generators only need to make
// collisions unlikely.
package idgen

import (
	"errors"
	"fmt"
)

// ErrUnknownStrategy is returned by New for an unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown id strategy")

// Strategy names accepted by New.
const (
	StrategyNanoID    = "nanoid"
	StrategySnowflake = "snowflake"
	StrategyUUID      = "uuid"
	StrategyULID      = "ulid"
	StrategyKSUID     = "ksuid"
	StrategyCUID2     = "cuid2"
	StrategyCounter   = "counter"
)

// Generator produces candidate connection ids.
type Generator interface {
	Generate() (string, error)
}

// Options carries the per-strategy knobs.
type Options struct {
	NanoIDSize     int
	NanoIDAlphabet string
	CUID2Length    int
	MachineID      int64
	Epoch          int64
}

// New builds the generator for strategy.
func New(strategy string, opts Options) (Generator, error) {
	switch strategy {
	case StrategyNanoID, "":
		size, alphabet := opts.NanoIDSize, opts.NanoIDAlphabet
		if size == 0 {
			size = DefaultNanoIDSize
		}
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoIDGenerator(size, alphabet)
	case StrategySnowflake:
		return NewSnowflakeGenerator(opts.MachineID, opts.Epoch)
	case StrategyUUID:
		return NewUUIDGenerator(), nil
	case StrategyULID:
		return NewULIDGenerator(), nil
	case StrategyKSUID:
		return NewKSUIDGenerator(), nil
	case StrategyCUID2:
		length := opts.CUID2Length
		if length == 0 {
			length = DefaultCUID2Length
		}
		return NewCUID2Generator(length)
	case StrategyCounter:
		return NewCounterGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
