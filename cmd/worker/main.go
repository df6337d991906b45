// Command worker processes background jobs and exposes Prometheus metrics.
package main

import (
	"go.uber.org/fx"

	"github.com/mohans/yebragi/internal/app"
)

func main() {
	fx.New(
		app.WithLogger(),
		app.Core,
		app.Worker,
	).Run()
}
