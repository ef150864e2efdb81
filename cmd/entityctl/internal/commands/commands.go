package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatDump:
		return nil
	}
	return fmt.Errorf("%w: output format %q, want table, json or dump", ErrInvalidExpression, format)
}

func newListCommand(a *app) *cobra.Command {
	var q listQuery
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List entities page by page",
		Example: `  entityctl --seed list orders --filter 'customer.customerName^=acme' --sort -orderNo
  entityctl --seed list customers --columns custNo,customerName --offset 5 --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(q.format); err != nil {
				return err
			}
			set, err := a.entitySet(args[0])
			if err != nil {
				return err
			}
			return set.list(cmd.Context(), cmd.OutOrStdout(), q)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&q.filters, "filter", "f", nil, "filter expression, repeat to AND several (e.g. 'orderNo>=5010')")
	flags.StringSliceVarP(&q.sort, "sort", "s", nil, "sort properties, '-' prefix for descending")
	flags.IntVar(&q.offset, "offset", 0, "index of the first item")
	flags.IntVar(&q.limit, "limit", 0, "maximum number of items, 0 for all")
	flags.StringSliceVar(&q.columns, "columns", nil, "properties to print")
	flags.StringVarP(&q.format, "output", "o", formatTable, "output format: table, json or dump")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			set, err := a.entitySet(args[0])
			if err != nil {
				return err
			}
			return set.get(cmd.Context(), cmd.OutOrStdout(), args[1], format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "output format: json or dump")
	return cmd
}

func newCountCommand(a *app) *cobra.Command {
	var filters []string
	cmd := &cobra.Command{
		Use:   "count <entity>",
		Short: "Count entities passing the filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := a.entitySet(args[0])
			if err != nil {
				return err
			}
			return set.count(cmd.Context(), cmd.OutOrStdout(), filters)
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter expression, repeat to AND several")
	return cmd
}
