package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestModuleGraphs(t *testing.T) {
	graphs := map[string][]fx.Option{
		"api":       {Core, API},
		"worker":    {Core, Worker},
		"scheduler": {Core, Scheduler},
	}
	for name, opts := range graphs {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fx.ValidateApp(append(opts, fx.NopLogger)...))
		})
	}
}
