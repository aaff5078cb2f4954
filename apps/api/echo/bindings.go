package echoapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/kazi/core"
)

var orderingParam = "ordering"

// Ordering is bound from a comma separated query param, e.g. "?ordering=-last_name,first_name".
type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads the ordering query param. Fields not in allowed are rejected with a 400.
// Blank and repeated fields are skipped.
func (ord *Ordering) Bind(ctx echo.Context, allowed []string) error {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return nil
	}

	seen := make(map[string]bool)
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" || seen[field] {
			continue
		}
		if !isAllowed(field, allowed) {
			return echo.NewHTTPError(http.StatusBadRequest, echo.Map{orderingParam: fmt.Sprintf("cannot order by %q", field)})
		}
		seen[field] = true
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return nil
}

func isAllowed(field string, allowed []string) bool {
	for _, f := range allowed {
		if f == field {
			return true
		}
	}
	return false
}
