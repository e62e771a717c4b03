package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	entitysync "github.com/huykn/entity-sync"
	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/policy"
	"github.com/huykn/entity-sync/types"
)

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [kind]",
		Short: "Show the legal status transitions of one or every kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := lifecycle.Kinds()
			if len(args) == 1 {
				kind := types.Kind(args[0])
				if _, ok := lifecycle.For(kind); !ok {
					return fmt.Errorf("%w: %s", lifecycle.ErrUnknownKind, kind)
				}
				kinds = []types.Kind{kind}
			}

			out := cmd.OutOrStdout()
			for i, kind := range kinds {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, accent(string(kind)))
				fmt.Fprintln(out, renderTable([]string{"FROM", "TO"}, transitionRows(kind)))
			}
			return nil
		},
	}
}

func transitionRows(kind types.Kind) [][]string {
	g, _ := lifecycle.For(kind)
	table := g.TableNames()
	rows := make([][]string, 0, len(table))
	for _, from := range g.StatusNames() {
		targets := table[from]
		to := strings.Join(targets, ", ")
		if len(targets) == 0 {
			to = muted("terminal")
		}
		rows = append(rows, []string{from, to})
	}
	return rows
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <kind> <from> <to>",
		Short: "Check whether a status transition is legal",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, from, to := types.Kind(args[0]), strings.ToUpper(args[1]), strings.ToUpper(args[2])
			if err := lifecycle.ApplyTransition(kind, from, to); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), errorMsg("%s %s -> %s is not allowed", kind, from, to))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("%s %s -> %s is allowed", kind, from, to))
			return nil
		},
	}
}

func policiesCmd(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Show the freshness policy of every key family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := entitysync.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			table, err := cfg.PolicyTable()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *debug {
				fmt.Fprint(out, keyValues("",
					kv("config", orNone(*configPath)),
					kv("pod", cfg.PodID),
					kv("redis", orNone(cfg.RedisAddr)),
					kv("amqp", orNone(cfg.AMQPURL)),
				))
				fmt.Fprintln(out)
			}

			rows := make([][]string, 0, len(table.Families())+1)
			for _, f := range table.Families() {
				rows = append(rows, policyRow(string(f.Kind), string(f.View), table.For(f)))
			}
			rows = append(rows, policyRow("*", "*", table.Fallback()))
			fmt.Fprintln(out, renderTable([]string{"KIND", "VIEW", "STALE", "REFETCH", "RETENTION"}, rows))

			r := table.Fallback().Retry
			fmt.Fprint(out, keyValues("",
				kv("retries", strconv.Itoa(r.MaxRetries)),
				kv("backoff", fmt.Sprintf("%s..%s", r.BaseDelay, r.MaxDelay)),
			))
			return nil
		},
	}
}

func policyRow(kind, view string, p policy.Policy) []string {
	refetch := muted("off")
	if p.RefetchInterval > 0 {
		refetch = p.RefetchInterval.String()
	}
	return []string{kind, view, p.Stale.String(), refetch, p.Retention.String()}
}

func orNone(s string) string {
	if s == "" {
		return muted("none")
	}
	return s
}

var views = []keys.ViewKind{keys.ViewList, keys.ViewDetail, keys.ViewByRelation, keys.ViewAggregate}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <kind> <view> [name=value...]",
		Short: "Print the canonical cache key of a view",
		Long: "Print the canonical cache key of a view. Repeating a name builds a multi-valued\n" +
			"filter; parameter order and value order do not change the key.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view := keys.ViewKind(args[1])
			if !slices.Contains(views, view) {
				return fmt.Errorf("unknown view %q", view)
			}
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), keys.For(types.Kind(args[0]), view, params).String())
			return nil
		},
	}
}

func parseParams(args []string) (keys.Params, error) {
	values := make(map[string][]string)
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", arg)
		}
		values[name] = append(values[name], value)
	}

	params := make(keys.Params, len(values))
	for name, vs := range values {
		if len(vs) == 1 {
			params[name] = vs[0]
		} else {
			params[name] = vs
		}
	}
	return params, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := entitysync.GetVersionInfo()
			fmt.Fprint(cmd.OutOrStdout(), keyValues("", kv("version", info.Version), kv("go", info.GoVersion)))
		},
	}
}
