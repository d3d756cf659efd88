// Package index provides the ordered, mutex-protected registries used to map
// partitions to sessions and managers.
//
// TwoTier maps a primary key to an ordered map of secondary keys. A primary
// entry never outlives its last secondary child: removing the last child
// removes the primary under the same lock.
package index
