// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package presence

import (
	"strconv"
	"strings"
)

// Change map values.
const (
	Inserted = "1"
	Removed  = "0"
)

// Changes maps 1-based port numbers to Inserted or Removed.
type Changes map[int]string

// Vector holds presence by port; index 0 is port 1.
type Vector []bool

func (v Vector) Equal(u Vector) bool {
	if len(v) != len(u) {
		return false
	}
	for i := range v {
		if v[i] != u[i] {
			return false
		}
	}
	return true
}

// Diff adds an entry to changes for every port whose presence in v differs
// from prev and returns the number of entries added.
func (v Vector) Diff(prev Vector, changes Changes) int {
	n := 0
	for i, present := range v {
		if i < len(prev) && prev[i] == present {
			continue
		}
		if present {
			changes[i+1] = Inserted
		} else {
			changes[i+1] = Removed
		}
		n++
	}
	return n
}

// Ports lists the 1-based ports that are present.
func (v Vector) Ports() []int {
	var ports []int
	for i, present := range v {
		if present {
			ports = append(ports, i+1)
		}
	}
	return ports
}

func (v Vector) String() string {
	ports := v.Ports()
	if len(ports) == 0 {
		return "none"
	}
	s := make([]string, len(ports))
	for i, port := range ports {
		s[i] = strconv.Itoa(port)
	}
	return strings.Join(s, ",")
}
