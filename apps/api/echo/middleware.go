package echoapi

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/kazi/core/user"
)

const ctxUserKey = "object"

var errUsrNotFoundInCtx = errors.New("user object not found in echo.Context")

// ctxUserMiddleware loads the User identified by the `:dni` path param into the context.
func ctxUserMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := svc.GetByNationalID(ctx.Request().Context(), ctx.Param("dni"))
			if err != nil {
				return errors.Wrap(err, "getting user by national ID")
			}
			ctx.Set(ctxUserKey, usr)
			return next(ctx)
		}
	}
}

// roleMiddleware restricts a route to context users having one of roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if usr.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(ctxUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUsrNotFoundInCtx
}

var (
	registerMetrics sync.Once

	reqCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies by method and route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// metricsMiddleware records request counts and latencies on the default prometheus registry.
func metricsMiddleware() echo.MiddlewareFunc {
	registerMetrics.Do(func() {
		prometheus.MustRegister(reqCount, reqDuration)
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err) // write the status code before recording it
			}

			method := ctx.Request().Method
			route := ctx.Path()
			reqCount.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()
			reqDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
