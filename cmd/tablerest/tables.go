package tablerest

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgeflare/tablerest/pkg/catalog"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the discovered tables and column types",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		b, err := openBackend(cmd.Context(), cfg.REST, logger)
		if err != nil {
			return err
		}
		defer b.close()

		cat := catalog.Load(cmd.Context(), b.discoverer, b.defaultSchema, logger)
		if cat.Len() == 0 {
			fmt.Fprintln(os.Stderr, "no tables found")
			return nil
		}
		return printCatalog(cmd.OutOrStdout(), cat)
	},
}

func printCatalog(out io.Writer, cat *catalog.Catalog) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tTYPE\tCOLUMNS")
	for _, name := range cat.Names() {
		t, _ := cat.Lookup(name)
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name + ":" + c.Type.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, t.Type, strings.Join(cols, ", "))
	}
	return w.Flush()
}
