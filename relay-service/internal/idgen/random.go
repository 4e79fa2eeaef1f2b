package idgen

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nrednav/cuid2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

const DefaultCUID2Length = 24

// UUIDGenerator generates random (v4) UUIDs.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (g *UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// ULIDGenerator generates lexicographically sortable ULIDs.
type ULIDGenerator struct{}

func NewULIDGenerator() *ULIDGenerator { return &ULIDGenerator{} }

func (g *ULIDGenerator) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// KSUIDGenerator generates K-sortable KSUIDs.
type KSUIDGenerator struct{}

func NewKSUIDGenerator() *KSUIDGenerator { return &KSUIDGenerator{} }

func (g *KSUIDGenerator) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

// CUID2Generator generates collision-resistant CUID2 ids.
type CUID2Generator struct {
	generate func() string
}

// NewCUID2Generator creates a new CUID2Generator. length must be between 2 and 32.
func NewCUID2Generator(length int) (*CUID2Generator, error) {
	if length < 2 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 2 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2Generator{generate: gen}, nil
}

func (g *CUID2Generator) Generate() (string, error) {
	return g.generate(), nil
}

// CounterGenerator hands out a process-local increasing sequence in base 36.
type CounterGenerator struct {
	next atomic.Uint64
}

func NewCounterGenerator() *CounterGenerator { return &CounterGenerator{} }

func (g *CounterGenerator) Generate() (string, error) {
	return strconv.FormatUint(g.next.Add(1), 36), nil
}
