// Package partition defines partition keys and service partitions, the
// addresses sessions are opened between.
package partition
