/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package token

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrOverflow signals that a quantity does not fit in 64 bits
var ErrOverflow = errors.New("quantity overflow")

// Quantity is an accumulator of token units with overflow checks.
type Quantity struct {
	Value uint64
}

func NewZeroQuantity() *Quantity {
	return &Quantity{}
}

func NewQuantity(q uint64) *Quantity {
	return &Quantity{Value: q}
}

// ToQuantity parses q, formatted as a decimal or as a 0x prefixed hexadecimal number.
func ToQuantity(q string) (*Quantity, error) {
	v, err := strconv.ParseUint(q, 0, 64)
	if err != nil {
		return nil, errors.Errorf("invalid input [%s]", q)
	}
	return &Quantity{Value: v}, nil
}

// Add adds b to this quantity.
func (q *Quantity) Add(b uint64) error {
	sum := q.Value + b
	if sum < q.Value {
		return errors.Wrapf(ErrOverflow, "%d + %d", q.Value, b)
	}
	q.Value = sum
	return nil
}

func (q *Quantity) Hex() string {
	return "0x" + strconv.FormatUint(q.Value, 16)
}

// SumQuantities adds up the passed values, failing on overflow.
func SumQuantities(values ...uint64) (uint64, error) {
	q := NewZeroQuantity()
	for _, v := range values {
		if err := q.Add(v); err != nil {
			return 0, err
		}
	}
	return q.Value, nil
}
