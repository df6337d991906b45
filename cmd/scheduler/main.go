// Command scheduler enqueues the nightly article scrape and runs reconciliation.
package main

import (
	"go.uber.org/fx"

	"github.com/mohans/yebragi/internal/app"
)

func main() {
	fx.New(
		app.WithLogger(),
		app.Core,
		app.Scheduler,
	).Run()
}
