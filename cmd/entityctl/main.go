// Command entityctl browses the demo customers and orders through the
// caching entity provider and an entity container.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/goliatone/go-entity-provider/cmd/entityctl/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
