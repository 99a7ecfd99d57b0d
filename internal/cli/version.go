package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxbox/internal"
)

// Represents the 'cruxbox version' command.
type VersionCmd struct{}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.Name, internal.VersionString())
	return nil
}
