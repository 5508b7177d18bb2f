package index

import "fmt"

func errDim(want, got int, what string) error {
	return fmt.Errorf("%s has dimension %d, index expects %d", what, got, want)
}

func errMismatch(field, want, got string) error {
	return fmt.Errorf("%s %q does not match index %s %q", field, got, field, want)
}
