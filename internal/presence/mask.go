// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package presence

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Mask is the decoded value of the combined presence register. The FPGA
// reports one active low bit per port, port N in bit N-1; bits above the
// register's width read as 0 and so report present.
type Mask struct {
	v *big.Int
}

// ParseMask decodes a hexadecimal register value of any width with an
// optional 0x prefix.
func ParseMask(s string) (Mask, error) {
	t := strings.TrimSpace(s)
	if len(t) > 1 && t[0] == '0' && (t[1] == 'x' || t[1] == 'X') {
		t = t[2:]
	}
	v, ok := new(big.Int).SetString(t, 16)
	if !ok || v.Sign() < 0 {
		return Mask{}, errors.Errorf("invalid presence mask %q", s)
	}
	return Mask{v}, nil
}

// Bit returns bit i of the raw register value.
func (m Mask) Bit(i int) uint {
	if m.v == nil || i < 0 {
		return 0
	}
	return m.v.Bit(i)
}

// Present reports whether the 1-based port has a module.
func (m Mask) Present(port int) bool {
	return m.Bit(port-1) == 0
}

func (m Mask) String() string {
	if m.v == nil {
		return "0x0"
	}
	return "0x" + m.v.Text(16)
}
