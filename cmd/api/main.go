// Command api serves the booking HTTP API.
package main

import (
	"go.uber.org/fx"

	"github.com/mohans/yebragi/internal/app"
)

func main() {
	fx.New(
		app.WithLogger(),
		app.Core,
		app.API,
	).Run()
}
