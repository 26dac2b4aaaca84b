// Command dbslice drives the dump and restore engines from the
// command line: dbslice dump slices a referentially-connected subset
// of a source database out to an archive, dbslice restore replays an
// archive back into a destination database in dependency order.
package main

import (
	"github.com/dbslice/dbslice/cmd/dbslice/cmd"
)

func main() {
	cmd.Execute()
}
