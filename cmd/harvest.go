package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/harvest/oapi"
	"github.com/spf13/cobra"
)

// NewHarvestCommand returns a new cobra command which wraps oapi.Main.
func NewHarvestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(oapi.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = `oapi`
	com.Short = `harvest oapi copies the items of an OGC API Features collection into a local table.`
	com.Long = `
harvest oapi requests {server}/collections/{collection}/items, follows the
"next" links of each page and inserts the features into a table of the
container at --path. Pages are requested one at a time and each page is
written in its own transaction.
`[1:]

	return com
}

func init() {
	subcommandFns["oapi"] = NewHarvestCommand
}
