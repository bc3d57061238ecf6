package broker

import "fmt"

func errInvalidQuantity(q int) error {
	return fmt.Errorf("broker: order quantity must be positive, got %d", q)
}
