package partition

import (
	"math"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// HeaderRole distinguishes the source and target projections of a partition
// on the wire.
type HeaderRole uint8

const (
	RoleSource HeaderRole = iota + 1
	RoleTarget
)

// MaxServiceNameLength is the longest service instance name that fits in a
// partition header.
const MaxServiceNameLength = 255

// Header is the wire projection of a ServicePartition.
type Header struct {
	Role                HeaderRole
	ServiceInstanceName string
	KeyType             KeyType
	Int64RangeLow       int64
	Int64RangeHigh      int64
	StringKey           string
}

// ServicePartition names one addressable partition of a service. It is
// immutable and safe to share.
type ServicePartition struct {
	name string
	key  Key

	headerOnce   sync.Once
	sourceHeader *Header
	targetHeader *Header
}

// New creates a service partition.
func New(serviceInstanceName string, key Key) (*ServicePartition, error) {
	if serviceInstanceName == "" {
		return nil, oops.In("partition").Errorf("service instance name is empty")
	}
	if len(serviceInstanceName) > MaxServiceNameLength {
		return nil, oops.In("partition").Errorf("service instance name exceeds %d bytes", MaxServiceNameLength)
	}
	if key.kind == KeyTypeString && len(key.str) > MaxServiceNameLength {
		return nil, oops.In("partition").Errorf("string key exceeds %d bytes", MaxServiceNameLength)
	}
	return &ServicePartition{name: serviceInstanceName, key: key}, nil
}

// FromHeader rebuilds a partition from its wire projection.
func FromHeader(h *Header) (*ServicePartition, error) {
	if h == nil {
		return nil, oops.In("partition").Errorf("missing partition header")
	}
	var key Key
	switch h.KeyType {
	case KeyTypeNone:
		key = NoneKey()
	case KeyTypeInt64Range:
		k, err := Int64RangeKey(h.Int64RangeLow, h.Int64RangeHigh)
		if err != nil {
			return nil, err
		}
		key = k
	case KeyTypeString:
		key = StringKey(h.StringKey)
	default:
		return nil, oops.In("partition").Errorf("unknown partition key type %d", h.KeyType)
	}
	return New(h.ServiceInstanceName, key)
}

// Parse reads "name" or "name:key" using ParseKey for the key part.
func Parse(s string) (*ServicePartition, error) {
	name, rest, _ := strings.Cut(s, ":")
	key, err := ParseKey(rest)
	if err != nil {
		return nil, err
	}
	return New(name, key)
}

func (p *ServicePartition) Name() string { return p.name }
func (p *ServicePartition) Key() Key     { return p.key }

// Equal compares by service name and key.
func (p *ServicePartition) Equal(other *ServicePartition) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.name == other.name && p.key.Equal(other.key)
}

// Contains reports whether other falls inside p: same service and a key
// contained by p's key.
func (p *ServicePartition) Contains(other *ServicePartition) bool {
	return p.name == other.name && p.key.Contains(other.key)
}

// ComparePartitions orders by service name, then key.
func ComparePartitions(a, b *ServicePartition) int {
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	return Compare(a.key, b.key)
}

// FloorProbe returns the largest partition that any hosted partition
// containing p can sort at or below. Looking up the floor of the probe in an
// ordered set of non-overlapping hosted partitions yields the only candidate
// that may contain p.
func (p *ServicePartition) FloorProbe() *ServicePartition {
	if p.key.kind != KeyTypeInt64Range {
		return p
	}
	return &ServicePartition{
		name: p.name,
		key:  Key{kind: KeyTypeInt64Range, low: p.key.low, high: math.MaxInt64},
	}
}

func (p *ServicePartition) buildHeaders() {
	base := Header{
		ServiceInstanceName: p.name,
		KeyType:             p.key.kind,
		Int64RangeLow:       p.key.low,
		Int64RangeHigh:      p.key.high,
		StringKey:           p.key.str,
	}
	src := base
	src.Role = RoleSource
	dst := base
	dst.Role = RoleTarget
	p.sourceHeader = &src
	p.targetHeader = &dst
}

// SourceHeader returns the cached source-role header. Callers must not
// modify it.
func (p *ServicePartition) SourceHeader() *Header {
	p.headerOnce.Do(p.buildHeaders)
	return p.sourceHeader
}

// TargetHeader returns the cached target-role header. Callers must not
// modify it.
func (p *ServicePartition) TargetHeader() *Header {
	p.headerOnce.Do(p.buildHeaders)
	return p.targetHeader
}

func (p *ServicePartition) String() string {
	if p.key.kind == KeyTypeNone {
		return p.name
	}
	return p.name + ":" + p.key.String()
}
