package pagination

import (
	"fmt"
	"strings"
)

// PageError reports which request of a run failed. Records collected before
// the failure are not returned.
type PageError struct {
	// RequestIndex is the zero-based index of the failed request in the run.
	RequestIndex int

	// Params are the paging parameters of the failed request.
	Params Params

	Err error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch page (request %d", e.RequestIndex)
	if e.Params.Page > 0 {
		fmt.Fprintf(&b, ", page %d", e.Params.Page)
	}
	if e.Params.PageToken != "" {
		fmt.Fprintf(&b, ", page_token %q", e.Params.PageToken)
	}
	fmt.Fprintf(&b, ", per_page %d): %v", e.Params.PerPage, e.Err)
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}
