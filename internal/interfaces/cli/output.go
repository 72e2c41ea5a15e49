package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data in the --output format. Without a CLIContext it
// falls back to JSON.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "json"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = strings.ToLower(cliCtx.OutputFormat)
	}
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return printJSON(out, data)
	case "table":
		if tp, ok := data.(tableProvider); ok {
			return printTable(out, tp.TableHeaders(), tp.TableRows())
		}
		return printText(out, data)
	case "text":
		return printText(out, data)
	default:
		return errors.InvalidParam("unknown output format").WithDetail(format)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, v.String())
		return err
	default:
		_, err := fmt.Fprintf(w, "%+v\n", v)
		return err
	}
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	prefix := color.New(color.FgRed, color.Bold).Sprint("Error:")
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", prefix, err.Error())
}

// colorizeMeanRank highlights heatmap quality: a mean rank near 1 means the
// reference tour edges sit at the top of their rows.
func colorizeMeanRank(v float64) string {
	s := fmt.Sprintf("%.3f", v)
	switch {
	case v <= 2:
		return color.GreenString(s)
	case v <= 5:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
