package promptcompose

import "fmt"

// errEmptyField reports a required JSON field that parsed as present but
// empty, distinct from a json.Unmarshal error.
func errEmptyField(field string) error {
	return fmt.Errorf("field %q is empty", field)
}
